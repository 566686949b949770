package extract

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCPURepairer rewrites a PDF through pdfcpu's optimizer, which rebuilds
// the cross-reference table and object streams along the way.
type PDFCPURepairer struct {
	conf *model.Configuration
}

func NewPDFCPURepairer() *PDFCPURepairer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPURepairer{conf: conf}
}

func (r *PDFCPURepairer) Repair(data []byte) (repaired []byte, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf repair panic: %v", recovered)
		}
	}()

	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(data), &out, r.conf); err != nil {
		return nil, fmt.Errorf("repair pdf: %w", err)
	}
	return out.Bytes(), nil
}
