package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
)

const billingMessage = "The service has exceeded its free usage limit. To continue using the app, the developer must enable billing. For more info, visit: https://ai.google.dev/gemini-api/docs/billing"

func identifyPrompt(p model.Point) string {
	return fmt.Sprintf(`Analyze the person nearest to coordinates (x=%d, y=%d). Provide a description focusing ONLY on permanent facial features and head structure. Describe their face shape, eye color and shape, nose, mouth, and any unique, permanent facial markings. CRUCIALLY, DO NOT mention clothing, glasses, hats, or any temporary items. The description must be robust enough to identify the same person even if they change their outfit. For example: "Person with an oval face, high cheekbones, thin lips, and almond-shaped blue eyes."`, p.X, p.Y)
}

func verifyPrompt(description string) string {
	return fmt.Sprintf(`Analyze the image. A person is described by their facial features as: "%s". Is this specific person present in the image? Please answer with only the word "true" or "false".`, description)
}

func removalPrompt(description string) string {
	return fmt.Sprintf(`Initiate a Key Inpainting and Editing (KIE) operation. The target for removal is defined by the following detailed facial and head structure description: "%s". Execute a complete inpainting of the area occupied by this person. Your primary task is to reconstruct the background with photorealistic detail, ensuring seamless integration with the surrounding environment. The final image must be free of any artifacts, distortions, or remnants of the removed person, appearing as if they were never there.`, description)
}

// opContext names an operation in user-facing error messages.
var opContext = map[string]string{
	"identify": "identification",
	"verify":   "person verification",
	"edit":     "image editing",
}

// parseVerdict accepts only "true" or "false"; anything else is an error.
func parseVerdict(reply string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, adapter.NewError("verify", adapter.ErrorKindMalformed, nil,
		"API error during %s: Unexpected response from AI when verifying person's presence. Got: %q. Expected \"true\" or \"false\".",
		opContext["verify"], strings.TrimSpace(reply))
}

// httpStatusError is a non-2xx reply from an HTTP provider.
type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// mapError turns a provider failure into an *adapter.Error. Structured
// status codes decide first; message text is only a fallback.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *adapter.Error
	if errors.As(err, &ae) {
		return ae
	}
	quota, known := quotaStatus(err)
	if !known {
		up := strings.ToUpper(err.Error())
		quota = strings.Contains(up, "RESOURCE_EXHAUSTED") || strings.Contains(up, "QUOTA")
	}
	if quota {
		return adapter.NewError(op, adapter.ErrorKindQuota, err, "%s", billingMessage)
	}
	return adapter.NewError(op, adapter.ErrorKindProvider, err, "API error during %s: %s", opContext[op], err.Error())
}

// quotaStatus reports whether err carries a provider status, and if so
// whether that status means the quota is exhausted.
func quotaStatus(err error) (quota, known bool) {
	var gv genai.APIError
	if errors.As(err, &gv) {
		return gv.Code == http.StatusTooManyRequests || gv.Status == "RESOURCE_EXHAUSTED", true
	}
	var gp *genai.APIError
	if errors.As(err, &gp) && gp != nil {
		return gp.Code == http.StatusTooManyRequests || gp.Status == "RESOURCE_EXHAUSTED", true
	}
	var he *httpStatusError
	if errors.As(err, &he) {
		return he.Code == http.StatusTooManyRequests || strings.Contains(strings.ToLower(he.Body), "insufficient_quota"), true
	}
	return false, false
}
