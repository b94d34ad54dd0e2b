package web

import (
	"time"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/usecase"
)

type imageView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      model.ImageStatus `json:"status"`
	Error       string            `json:"error,omitempty"`
	PassThrough bool              `json:"pass_through,omitempty"`
	HasResult   bool              `json:"has_result"`
}

type batchView struct {
	ID         string      `json:"id"`
	Influencer string      `json:"influencer,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Target     string      `json:"target"`
	Started    bool        `json:"started"`
	CreatedAt  time.Time   `json:"created_at"`
	Balance    int64       `json:"balance"`
	Images     []imageView `json:"images"`
}

func newImageView(r model.ImageRecord) imageView {
	return imageView{
		ID:          r.ID,
		Name:        r.Source.Name,
		Status:      r.Status,
		Error:       r.Error,
		PassThrough: r.PassThrough,
		HasResult:   r.Result != nil,
	}
}

func newBatchView(b *usecase.Batch, balance int64) batchView {
	v := batchView{
		ID:         b.ID,
		Influencer: b.Influencer,
		Warnings:   b.Warnings,
		Target:     b.Target.String(),
		Started:    b.Started(),
		CreatedAt:  b.CreatedAt,
		Balance:    balance,
	}
	for _, r := range b.Store.Snapshot() {
		v.Images = append(v.Images, newImageView(r))
	}
	return v
}
