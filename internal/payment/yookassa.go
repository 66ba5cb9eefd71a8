package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paygate-bot/config"
)

const defaultDescription = "Оплата материалов от пользователя %d"

type YooKassaClient struct {
	http        *resty.Client
	returnURL   string
	description string
}

type yooAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type yooPaymentRequest struct {
	Amount       yooAmount         `json:"amount"`
	Confirmation yooConfirmation   `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
}

type yooPaymentResponse struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Confirmation yooConfirmation `json:"confirmation"`
}

type yooError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func NewYooKassaClient(cfg config.YooKassa, pay config.Payment, baseURL string) *YooKassaClient {
	returnURL := pay.ReturnURL
	if returnURL == "" {
		returnURL = strings.TrimSuffix(baseURL, "/") + "/"
	}
	description := pay.Description
	if description == "" {
		description = defaultDescription
	}

	http := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.APIURL, "/")).
		SetBasicAuth(cfg.ShopID, cfg.SecretKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(pay.Timeout)

	return &YooKassaClient{http: http, returnURL: returnURL, description: description}
}

// CreatePayment registers a redirect payment and returns its id and the
// confirmation URL the user has to visit.
func (c *YooKassaClient) CreatePayment(ctx context.Context, userID int64, amount decimal.Decimal, currency string) (*Checkout, error) {
	body := yooPaymentRequest{
		Amount: yooAmount{Value: amount.StringFixed(2), Currency: currency},
		Confirmation: yooConfirmation{
			Type:      "redirect",
			ReturnURL: c.returnURL,
		},
		Capture:     true,
		Description: formatDescription(c.description, userID),
		Metadata:    map[string]string{"user_vk_id": strconv.FormatInt(userID, 10)},
	}

	var result yooPaymentResponse
	var apiErr yooError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotence-Key", uuid.New().String()).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/payments")
	if err != nil {
		return nil, fmt.Errorf("failed to create yookassa payment: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yookassa returned %s: %s %s", resp.Status(), apiErr.Code, apiErr.Description)
	}
	if result.ID == "" || result.Confirmation.ConfirmationURL == "" {
		return nil, errors.New("yookassa response has no payment id or confirmation url")
	}

	return &Checkout{PaymentID: result.ID, URL: result.Confirmation.ConfirmationURL}, nil
}

func formatDescription(tmpl string, userID int64) string {
	if strings.Contains(tmpl, "%d") {
		return fmt.Sprintf(tmpl, userID)
	}
	return tmpl
}
