package dispatcher

import (
	"encoding/hex"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/rerrors"
)

// Directive is the signed outer record carrying a response action to an
// enforcement point (§3, §4.5).
type Directive struct {
	DirectiveID string                 `json:"directive_id"`
	TargetScope TargetScope            `json:"target_scope"`
	Action      string                 `json:"action"`
	Parameters  map[string]interface{} `json:"parameters"`
	Signature   string                 `json:"signature,omitempty"`
}

type directiveBody struct {
	DirectiveID string                 `json:"directive_id"`
	TargetScope TargetScope            `json:"target_scope"`
	Action      string                 `json:"action"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func (d *Directive) canonicalBody() directiveBody {
	return directiveBody{
		DirectiveID: d.DirectiveID,
		TargetScope: d.TargetScope,
		Action:      d.Action,
		Parameters:  d.Parameters,
	}
}

// sign produces the directive's Ed25519 signature over its canonical
// body (§4.1, §4.5). A second send of the same logical directive after
// a timeout requires a fresh DirectiveID and a fresh call to sign — the
// dispatcher never resigns or retries the same envelope.
func (d *Directive) sign(signer *crypto.Ed25519Signer) error {
	canonicalBytes, err := canonicalize.JCS(d.canonicalBody())
	if err != nil {
		return rerrors.New("dispatcher.Directive.sign", rerrors.SignatureInvalid, err)
	}
	sig, err := signer.Sign(canonicalBytes)
	if err != nil {
		return rerrors.New("dispatcher.Directive.sign", rerrors.SignatureInvalid, err)
	}
	d.Signature = hex.EncodeToString(sig)
	return nil
}
