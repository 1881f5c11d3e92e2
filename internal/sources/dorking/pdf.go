package dorking

import (
	"bytes"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/shii9/PassiveNio/internal/core"
)

var disableConfigDir sync.Once

// readPDF parses the document information dictionary with pdfcpu in
// relaxed validation mode.
func readPDF(body []byte) (DocMeta, error) {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadAndValidate(bytes.NewReader(body), conf)
	if err != nil {
		return DocMeta{}, core.ParseError("read pdf", "not a readable PDF", err)
	}
	x := ctx.XRefTable
	return DocMeta{
		Title:    x.Title,
		Author:   x.Author,
		Creator:  x.Creator,
		Producer: x.Producer,
		Created:  x.CreationDate,
	}, nil
}
