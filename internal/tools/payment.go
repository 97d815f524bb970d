package tools

import (
	"context"
	"fmt"
)

// --- create_payment_token ---

type CreatePaymentTokenTool struct {
	Provider PaymentProvider
}

func NewCreatePaymentTokenTool(p PaymentProvider) *CreatePaymentTokenTool {
	return &CreatePaymentTokenTool{Provider: p}
}

func (t *CreatePaymentTokenTool) Name() string       { return "create_payment_token" }
func (t *CreatePaymentTokenTool) Description() string { return "Create a billing request for the signing fee and payment mandate" }
func (t *CreatePaymentTokenTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"preferred_payment_day": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"preferred_payment_day"},
	}
}

func (t *CreatePaymentTokenTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	day := intArg(args["preferred_payment_day"])

	billingRequestID, paymentURL, signingFee, monthly, err := t.Provider.CreatePaymentToken(ctx, day)
	if err != nil {
		return Fail("provider_error", "payment provider is unavailable").WithError(err)
	}
	data := map[string]interface{}{
		"billing_request_id": billingRequestID,
		"payment_url":        paymentURL,
		"signing_fee_pounds": signingFee,
		"monthly_pounds":     monthly,
	}
	return OK(fmt.Sprintf("billing_request_id=%s payment_url=%s", billingRequestID, paymentURL), data)
}

// --- create_signup_payment_link ---

type CreateSignupLinkTool struct {
	Provider PaymentProvider
}

func NewCreateSignupLinkTool(p PaymentProvider) *CreateSignupLinkTool {
	return &CreateSignupLinkTool{Provider: p}
}

func (t *CreateSignupLinkTool) Name() string       { return "create_signup_payment_link" }
func (t *CreateSignupLinkTool) Description() string { return "Regenerate a payment link for an existing billing request" }
func (t *CreateSignupLinkTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"billing_request_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"billing_request_id"},
	}
}

func (t *CreateSignupLinkTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	billingRequestID := strArg(args["billing_request_id"])
	if billingRequestID == "" {
		return Fail("validation_failed", "billing_request_id is required")
	}

	paymentURL, err := t.Provider.CreateSignupLink(ctx, billingRequestID)
	if err != nil {
		return Fail("provider_error", "payment provider is unavailable").WithError(err)
	}
	return OK(fmt.Sprintf("payment_url=%s", paymentURL), map[string]interface{}{"payment_url": paymentURL})
}

// --- send_sms_payment_link ---

type SendSMSPaymentLinkTool struct {
	Provider SMSProvider
}

func NewSendSMSPaymentLinkTool(p SMSProvider) *SendSMSPaymentLinkTool {
	return &SendSMSPaymentLinkTool{Provider: p}
}

func (t *SendSMSPaymentLinkTool) Name() string       { return "send_sms_payment_link" }
func (t *SendSMSPaymentLinkTool) Description() string { return "Text the payment link to the parent's mobile number" }
func (t *SendSMSPaymentLinkTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"phone":       map[string]interface{}{"type": "string"},
			"payment_url": map[string]interface{}{"type": "string"},
			"child_name":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"phone", "payment_url", "child_name"},
	}
}

func (t *SendSMSPaymentLinkTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	phone := strArg(args["phone"])
	paymentURL := strArg(args["payment_url"])
	childName := strArg(args["child_name"])

	messageID, err := t.Provider.Send(ctx, phone, paymentURL, childName)
	if err != nil {
		return Fail("invalid_phone", "could not send the payment link by text").WithError(err)
	}
	return OK(fmt.Sprintf("message_id=%s", messageID), map[string]interface{}{"message_id": messageID})
}
