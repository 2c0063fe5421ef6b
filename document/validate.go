package document

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Validate checks that generated PDF bytes form a structurally sound
// document, returning its page count. Used by tests and by the server's
// debug mode; the hot path does not pay for it.
func Validate(pdfData []byte) (pages int, err error) {
	if len(pdfData) < 4 || string(pdfData[:4]) != "%PDF" {
		return 0, fmt.Errorf("not a PDF (missing %%PDF header)")
	}
	ctx, err := api.ReadContext(bytes.NewReader(pdfData), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("read PDF: %w", err)
	}
	return ctx.PageCount, nil
}
