package payment

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verifier authenticates BitPay notifications against the merchant API key.
// It has no side effects.
type Verifier struct {
	apiKey string
	signer Signer
}

func NewVerifier(apiKey string, signer Signer) *Verifier {
	if signer == nil {
		signer = HMACSigner{}
	}
	return &Verifier{apiKey: apiKey, signer: signer}
}

func (v *Verifier) Verify(raw []byte) (*VerifiedNotification, error) {
	// Same rule as config.Gateway.Validate: a blank key never authenticates.
	if strings.TrimSpace(v.apiKey) == "" {
		return nil, ErrConfigInvalid
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedPayload)
	}

	rawPosData, ok := obj["posData"]
	if !ok {
		return nil, fmt.Errorf("%w: posData missing", ErrMalformedPayload)
	}

	pd, err := decodePosData(rawPosData)
	if err != nil {
		return nil, err
	}

	if !TokensEqual(v.signer.Sign(pd.Reference, v.apiKey), pd.Hash) {
		return nil, ErrAuthenticationFailed
	}

	fields := make(map[string]any, len(obj))
	for k, val := range obj {
		fields[k] = val
	}
	fields["posData"] = pd.Reference

	status, _ := obj["status"].(string)
	invoiceID, _ := obj["id"].(string)

	return &VerifiedNotification{
		Reference: pd.Reference,
		Status:    status,
		InvoiceID: invoiceID,
		Fields:    fields,
	}, nil
}

// decodePosData accepts the blob either as the stringified JSON BitPay echoes
// back or as an already decoded object.
func decodePosData(v any) (PosData, error) {
	var fields map[string]any

	switch p := v.(type) {
	case string:
		if err := json.Unmarshal([]byte(p), &fields); err != nil {
			return PosData{}, fmt.Errorf("%w: posData is not a JSON object: %v", ErrMalformedPayload, err)
		}
	case map[string]any:
		fields = p
	default:
		return PosData{}, fmt.Errorf("%w: posData has type %T", ErrMalformedPayload, v)
	}

	reference, _ := fields["posData"].(string)
	hash, _ := fields["hash"].(string)
	if reference == "" || hash == "" {
		return PosData{}, fmt.Errorf("%w: posData reference or hash missing", ErrMalformedPayload)
	}

	return PosData{Reference: reference, Hash: hash}, nil
}
