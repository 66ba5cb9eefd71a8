package bot

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"paygate-bot/config"
)

const TransportVK = "vk"

const (
	VKTypeConfirmation = "confirmation"
	VKTypeMessageNew   = "message_new"
)

// VKClient sends messages through the VK API as the community.
type VKClient struct {
	http    *resty.Client
	token   string
	version string
}

type vkError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

type vkSendResponse struct {
	Response json.RawMessage `json:"response"`
	Error    *vkError        `json:"error"`
}

func NewVKClient(cfg config.VK, m config.Messenger) *VKClient {
	return &VKClient{
		http:    resty.New().SetBaseURL(cfg.APIURL).SetTimeout(m.Timeout),
		token:   cfg.GroupToken,
		version: cfg.APIVersion,
	}
}

func (c *VKClient) SendMessage(ctx context.Context, userID int64, text string) error {
	var result vkSendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"user_id":      strconv.FormatInt(userID, 10),
			"message":      text,
			"random_id":    strconv.FormatInt(randomID(), 10),
			"access_token": c.token,
			"v":            c.version,
		}).
		SetResult(&result).
		ForceContentType("application/json").
		Post("messages.send")
	if err != nil {
		return fmt.Errorf("vk messages.send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("vk messages.send returned %s", resp.Status())
	}
	if result.Error != nil {
		return fmt.Errorf("vk messages.send: %d %s", result.Error.Code, result.Error.Message)
	}
	return nil
}

// randomID is the per-message deduplication id VK requires; it has to fit
// into a signed 32-bit integer.
func randomID() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint32(u[:4]) >> 1)
}

// VKCallback is a Callback API request body.
type VKCallback struct {
	Type    string          `json:"type"`
	GroupID int64           `json:"group_id"`
	Secret  string          `json:"secret"`
	Object  json.RawMessage `json:"object"`
}

type vkMessageNew struct {
	Message struct {
		FromID int64  `json:"from_id"`
		Text   string `json:"text"`
	} `json:"message"`
}

// Event extracts the chat message from a message_new callback.
func (c *VKCallback) Event() (Event, error) {
	var obj vkMessageNew
	if len(c.Object) == 0 {
		return Event{}, fmt.Errorf("message_new without object")
	}
	if err := json.Unmarshal(c.Object, &obj); err != nil {
		return Event{}, fmt.Errorf("cannot decode message_new: %w", err)
	}
	return Event{
		UserID:    obj.Message.FromID,
		Text:      obj.Message.Text,
		Transport: TransportVK,
	}, nil
}
