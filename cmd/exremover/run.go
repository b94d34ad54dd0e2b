package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/model"
	"ex-remover/internal/infra/adapters/ai"
	"ex-remover/internal/usecase"
)

type runOptions struct {
	dir         string
	x, y        int
	description string
	influencer  string
	out         string
	keepAbsent  bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every photo in a directory",
		Long: "Identify the person at --x/--y in the first photo (or use --description),\n" +
			"remove them from every photo in --dir and write the results to --out.",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBatch(runCtx, ctx, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.dir, "dir", "", "Directory of photos")
	f.IntVar(&opts.x, "x", 0, "X pixel of the person in the first photo")
	f.IntVar(&opts.y, "y", 0, "Y pixel of the person in the first photo")
	f.StringVar(&opts.description, "description", "", "Describe the person instead of pointing at them")
	f.StringVar(&opts.influencer, "influencer", "", "Influencer code to credit")
	f.StringVarP(&opts.out, "out", "o", usecase.DefaultArchiveName, "Archive to write (empty to skip)")
	f.BoolVar(&opts.keepAbsent, "keep-absent", false, "Keep the original where the person was not found (refunds its credit)")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func runBatch(ctx context.Context, cc *commandContext, opts runOptions, out io.Writer) error {
	cfg := cc.config
	log := cc.logger()

	be, err := cc.openBackend(ctx)
	if err != nil {
		return err
	}
	defer be.Close()

	id, err := cc.installationID()
	if err != nil {
		return err
	}
	release, err := cc.lockInstallation(ctx, be, id)
	if err != nil {
		return err
	}
	defer release()
	led, err := cc.openLedger(ctx, be)
	if err != nil {
		return err
	}

	vision, err := ai.NewFromConfig(ctx, cfg.AI, log)
	if err != nil {
		return err
	}
	tracker := usecase.NewInfluencerTracker(be.Store, log)
	sess := usecase.NewSession(led, vision, log, usecase.WithInfluencerTracker(tracker))
	defer sess.Close()

	files, msgs, err := usecase.LoadDir(opts.dir)
	if err != nil {
		return err
	}
	b, err := sess.NewBatch(files, opts.influencer)
	if err != nil {
		return err
	}
	for _, m := range append(msgs, b.Warnings...) {
		fmt.Fprintln(out, "warning:", m)
	}
	fmt.Fprintf(out, "%d photos, %d credits available\n", b.Store.Len(), led.Balance())

	if opts.description != "" {
		if err := sess.SetTarget(opts.description); err != nil {
			return err
		}
	} else {
		desc, err := sess.Identify(ctx, model.Point{X: opts.x, Y: opts.y})
		if err != nil {
			return fmt.Errorf("identify: %w", err)
		}
		fmt.Fprintf(out, "Removing: %s\n", desc)
	}

	report, err := sess.Run(ctx)
	var short *usecase.InsufficientCreditsError
	if errors.As(err, &short) {
		return fmt.Errorf("this batch needs %d credits but only %d are available; buy %d more with `exremover credits --buy <package>`",
			short.Needed, short.Available, short.Shortfall())
	}
	if err != nil {
		return err
	}

	if opts.keepAbsent {
		for _, id := range b.Store.IDsWithStatus(model.ImageStatusPersonNotFound) {
			if _, err := sess.ConfirmAbsent(ctx, id); err != nil {
				log.Warn().Err(err).Str("image_id", id).Msg("keep original failed")
			}
		}
	}

	fmt.Fprintln(out, resultTable(b.Store.Snapshot()))
	fmt.Fprintf(out, "done %d, not found %d, failed %d; %d credits left\n",
		len(b.Store.IDsWithStatus(model.ImageStatusDone)),
		len(b.Store.IDsWithStatus(model.ImageStatusPersonNotFound)),
		len(b.Store.IDsWithStatus(model.ImageStatusFailed)),
		led.Balance())
	log.Debug().Str("seq", report.Seq).Int("refunds", report.Refunds()).Msg("run report")

	if opts.out == "" {
		return nil
	}
	return writeArchiveFile(opts.out, sess, out)
}

func resultTable(records []model.ImageRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		size := ""
		if r.Result != nil {
			size = humanize.Bytes(uint64(len(r.Result.Data)))
		}
		note := r.Error
		if r.PassThrough {
			note = "original kept"
		}
		rows = append(rows, []string{r.Source.Name, string(r.Status), size, note})
	}
	return renderTable(
		[]string{"Photo", "Status", "Result", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func writeArchiveFile(path string, sess *usecase.Session, out io.Writer) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".exremover-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	n, err := sess.Export(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, domain.ErrNothingToExport) {
		fmt.Fprintln(out, "nothing to download: no photo was processed successfully")
		return nil
	}
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return err
	}
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d photos, %s)\n", path, n, humanize.Bytes(uint64(st.Size())))
	return nil
}
