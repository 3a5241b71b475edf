package assembler

import (
	"encoding/base64"
	"html/template"
	"net/http"
	"strings"

	"github.com/AnTengye/contractforge/model"
)

type signatureSlot struct {
	Role       string
	Label      string
	Party      string
	Signed     bool
	ImageURI   template.URL
	SignerName string
	SignedDate string
}

type signatureBlock struct {
	Buyer     signatureSlot
	Publisher signatureSlot
}

func signatureBlockFor(e env, buyerParty, publisherParty string) signatureBlock {
	return signatureBlock{
		Buyer:     slotFor(model.RoleBuyer, e.labels.Buyer, buyerParty, e.signatures.Buyer),
		Publisher: slotFor(model.RolePublisher, e.labels.Publisher, publisherParty, e.signatures.Publisher),
	}
}

// slotFor keeps the same markup shape whether or not sig is present, so signed
// and unsigned documents lay out identically.
func slotFor(role model.Role, label, partyName string, sig *model.Signature) signatureSlot {
	slot := signatureSlot{
		Role:  string(role),
		Label: strings.ToUpper(label),
		Party: partyName,
	}
	if sig == nil || len(sig.Image) == 0 {
		return slot
	}
	slot.Signed = true
	slot.ImageURI = dataURI(sig.Image)
	slot.SignerName = str(sig.SignerName)
	slot.SignedDate = longDate(sig.SignedAt.UTC())
	return slot
}

func dataURI(img []byte) template.URL {
	contentType := http.DetectContentType(img)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/png"
	}
	return template.URL("data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img))
}
