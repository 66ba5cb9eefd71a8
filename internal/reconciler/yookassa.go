package reconciler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"paygate-bot/internal/models"
)

type yooNotification struct {
	Type   string     `json:"type"`
	Event  string     `json:"event"`
	Object *yooObject `json:"object"`
}

type yooObject struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Metadata struct {
		UserVKID flexID `json:"user_vk_id"`
	} `json:"metadata"`
}

// flexID accepts the user id as a JSON string (what YooKassa sends back
// from metadata) or as a bare number. Anything else reads as zero: the id
// only picks a fallback recipient and must not sink the whole event.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexID(n)
	return nil
}

// ParseYooKassa decodes a notification body. Bodies without an object or
// without a payment id are reported as ErrMalformedEvent.
func ParseYooKassa(body []byte) (Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Event{}, fmt.Errorf("%w: empty body", ErrMalformedEvent)
	}

	var n yooNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if n.Object == nil || n.Object.ID == "" {
		return Event{}, fmt.Errorf("%w: missing object", ErrMalformedEvent)
	}

	status := n.Object.Status
	if status == "" {
		// "payment.succeeded" -> "succeeded"
		if i := strings.LastIndex(n.Event, "."); i >= 0 {
			status = n.Event[i+1:]
		}
	}

	return Event{
		Type:      n.Event,
		PaymentID: n.Object.ID,
		Status:    models.PaymentStatus(status),
		UserID:    int64(n.Object.Metadata.UserVKID),
	}, nil
}
