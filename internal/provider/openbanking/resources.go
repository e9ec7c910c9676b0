package openbanking

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"obgateway/internal/domain/account"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/money"
	"obgateway/internal/domain/payment"
	"obgateway/internal/provider"
	"obgateway/internal/provider/base"
)

func (p *Provider) getData(ctx context.Context, op, endpoint string, g provider.Grant, out any) error {
	resp, err := p.http.Get(ctx, endpoint, base.Bearer(g.AccessToken))
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return resp.AsError(op)
	}
	if err := resp.UnmarshalJSON(out); err != nil {
		return &provider.ProviderError{Code: provider.ErrUnexpectedResponse, Message: op + " returned an unreadable body", ProviderErr: err.Error()}
	}
	return nil
}

func (p *Provider) Accounts(ctx context.Context, g provider.Grant) ([]account.Account, error) {
	var body struct {
		Data struct {
			Account []account.Account `json:"Account"`
		} `json:"Data"`
	}
	if err := p.getData(ctx, "list accounts", "/aisp/accounts", g, &body); err != nil {
		return nil, err
	}
	return body.Data.Account, nil
}

func (p *Provider) Balances(ctx context.Context, g provider.Grant, accountID string) ([]account.Balance, error) {
	var body struct {
		Data struct {
			Balance []account.Balance `json:"Balance"`
		} `json:"Data"`
	}
	endpoint := "/aisp/accounts/" + url.PathEscape(accountID) + "/balances"
	if err := p.getData(ctx, "list balances", endpoint, g, &body); err != nil {
		return nil, err
	}
	return body.Data.Balance, nil
}

func (p *Provider) Transactions(ctx context.Context, g provider.Grant, accountID string, from, to *time.Time) ([]account.Transaction, error) {
	q := url.Values{}
	if from != nil {
		q.Set("fromBookingDateTime", from.UTC().Format(time.RFC3339))
	}
	if to != nil {
		q.Set("toBookingDateTime", to.UTC().Format(time.RFC3339))
	}
	endpoint := "/aisp/accounts/" + url.PathEscape(accountID) + "/transactions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var body struct {
		Data struct {
			Transaction []account.Transaction `json:"Transaction"`
		} `json:"Data"`
	}
	if err := p.getData(ctx, "list transactions", endpoint, g, &body); err != nil {
		return nil, err
	}
	return body.Data.Transaction, nil
}

type domesticPaymentRequest struct {
	Data struct {
		ConsentID  string             `json:"ConsentId"`
		Initiation consent.Initiation `json:"Initiation"`
	} `json:"Data"`
	Risk consent.Risk `json:"Risk"`
}

// SubmitPayment posts the payment with the idempotency key the ASPSP deduplicates on.
func (p *Provider) SubmitPayment(ctx context.Context, req provider.PaymentSubmission) (*provider.PaymentReceipt, error) {
	creditor, err := p.validator.Normalize(req.Initiation.CreditorAccount)
	if err != nil {
		return nil, err
	}
	var payload domesticPaymentRequest
	payload.Data.ConsentID = req.ConsentID
	payload.Data.Initiation = req.Initiation.Clone()
	payload.Data.Initiation.CreditorAccount = creditor
	payload.Risk = req.Risk

	headers := base.Bearer(req.Grant.AccessToken)
	headers["x-idempotency-key"] = req.IdempotencyKey

	resp, err := p.http.PostJSON(ctx, "/pisp/domestic-payments", payload, headers)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, resp.AsError("submit payment")
	}
	var body struct {
		Data struct {
			DomesticPaymentID string `json:"DomesticPaymentId"`
			Status            string `json:"Status"`
		} `json:"Data"`
	}
	if err := resp.UnmarshalJSON(&body); err != nil {
		return nil, &provider.ProviderError{Code: provider.ErrUnexpectedResponse, Message: "submit payment returned an unreadable body", ProviderErr: err.Error()}
	}
	status, err := parseStatus(body.Data.Status)
	if err != nil {
		return nil, err
	}
	return &provider.PaymentReceipt{Reference: body.Data.DomesticPaymentID, Status: status}, nil
}

func (p *Provider) PaymentStatus(ctx context.Context, g provider.Grant, reference string) (payment.Status, error) {
	var body struct {
		Data struct {
			Status string `json:"Status"`
		} `json:"Data"`
	}
	if err := p.getData(ctx, "get payment", "/pisp/domestic-payments/"+url.PathEscape(reference), g, &body); err != nil {
		return "", err
	}
	return parseStatus(body.Data.Status)
}

func parseStatus(s string) (payment.Status, error) {
	st, err := payment.ParseStatus(s)
	if err != nil {
		return "", &provider.ProviderError{Code: provider.ErrUnexpectedResponse, Message: fmt.Sprintf("unknown payment status %q", s)}
	}
	return st, nil
}

func (p *Provider) CheckFunds(ctx context.Context, req provider.FundsCheck) (bool, error) {
	var payload struct {
		Data struct {
			ConsentID        string       `json:"ConsentId"`
			Reference        string       `json:"Reference"`
			InstructedAmount money.Amount `json:"InstructedAmount"`
		} `json:"Data"`
	}
	payload.Data.ConsentID = req.ConsentID
	payload.Data.Reference = req.Reference
	payload.Data.InstructedAmount = req.Amount

	resp, err := p.http.PostJSON(ctx, "/cbpii/funds-confirmations", payload, base.Bearer(req.Grant.AccessToken))
	if err != nil {
		return false, err
	}
	if !resp.IsSuccess() {
		return false, resp.AsError("confirm funds")
	}
	var body struct {
		Data struct {
			FundsAvailable bool `json:"FundsAvailable"`
		} `json:"Data"`
	}
	if err := resp.UnmarshalJSON(&body); err != nil {
		return false, &provider.ProviderError{Code: provider.ErrUnexpectedResponse, Message: "confirm funds returned an unreadable body", ProviderErr: err.Error()}
	}
	return body.Data.FundsAvailable, nil
}

// VerifyName runs confirmation of payee with the TPP's client credentials.
func (p *Provider) VerifyName(ctx context.Context, req account.NameVerificationRequest) (*account.NameVerificationResult, error) {
	acc, err := p.validator.Normalize(account.CashAccount{SchemeName: req.SchemeName, Identification: req.Identification})
	if err != nil {
		return nil, err
	}
	req.Identification = acc.Identification

	token, err := p.clientToken(ctx)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data account.NameVerificationRequest `json:"Data"`
	}
	payload.Data = req
	resp, err := p.http.PostJSON(ctx, "/cop/name-verification", payload, base.Bearer(token))
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, resp.AsError("verify name")
	}
	var body struct {
		Data account.NameVerificationResult `json:"Data"`
	}
	if err := resp.UnmarshalJSON(&body); err != nil {
		return nil, &provider.ProviderError{Code: provider.ErrUnexpectedResponse, Message: "verify name returned an unreadable body", ProviderErr: err.Error()}
	}
	return &body.Data, nil
}
