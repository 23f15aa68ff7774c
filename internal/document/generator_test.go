package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/procurehub/internal/procurement"
)

type stubRenderer struct {
	html string
	err  error
}

func (s *stubRenderer) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.html = html
	return []byte("%PDF-1.7 stub"), nil
}

func sampleLineage() (procurement.PurchaseOrder, procurement.QuotationItem, procurement.PurchaseRequest) {
	order := procurement.PurchaseOrder{Number: "OC-202603-0001"}
	item := procurement.QuotationItem{
		VendorName:  "Beta Comercio",
		VendorTaxID: "12.345.678/0001-90",
		Description: "Toner CF280A",
		UnitValue:   decimal.RequireFromString("1234.50"),
		Quantity:    4,
		TotalValue:  decimal.RequireFromString("4938.00"),
	}
	request := procurement.PurchaseRequest{
		Number:        "RC-202603-0001",
		Justification: "printer toner for the quarter",
	}
	return order, item, request
}

func TestGenerateStoresPDF(t *testing.T) {
	dir := t.TempDir()
	renderer := &stubRenderer{}
	gen := NewGenerator(renderer, NewDiskStore(dir))

	order, item, request := sampleLineage()
	ref, err := gen.Generate(context.Background(), order, item, request)
	require.NoError(t, err)
	require.Equal(t, "orders/OC-202603-0001.pdf", ref)

	data, err := os.ReadFile(filepath.Join(dir, ref))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "%PDF"))

	require.Contains(t, renderer.html, "OC-202603-0001")
	require.Contains(t, renderer.html, "RC-202603-0001")
	require.Contains(t, renderer.html, "Beta Comercio")
	// pt-BR number formatting: thousands dot, decimal comma.
	require.Contains(t, renderer.html, "R$ 4.938,00")
	require.Contains(t, renderer.html, "R$ 1.234,50")
}

func TestGeneratePropagatesRenderFailure(t *testing.T) {
	gen := NewGenerator(&stubRenderer{err: errors.New("gotenberg down")}, NewDiskStore(t.TempDir()))

	order, item, request := sampleLineage()
	_, err := gen.Generate(context.Background(), order, item, request)
	require.Error(t, err)
	require.Contains(t, err.Error(), "OC-202603-0001")
}
