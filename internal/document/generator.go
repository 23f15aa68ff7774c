package document

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/procurehub/procurehub/internal/procurement"
)

// Renderer converts HTML to a binary document.
type Renderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Store persists rendered documents and returns a stable reference.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// DiskStore writes documents under a base directory.
type DiskStore struct {
	dir string
}

// NewDiskStore constructs a DiskStore rooted at dir.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Save writes the document and returns its path relative to the base dir.
func (s *DiskStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// Generator renders the purchase order document. It satisfies the
// procurement service's document port.
type Generator struct {
	renderer Renderer
	store    Store
	printer  *message.Printer
}

// NewGenerator constructs a Generator.
func NewGenerator(renderer Renderer, store Store) *Generator {
	return &Generator{
		renderer: renderer,
		store:    store,
		printer:  message.NewPrinter(language.BrazilianPortuguese),
	}
}

var orderTemplate = template.Must(template.New("order").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Ordem de Compra {{.Number}}</title></head>
<body>
  <h1>Ordem de Compra {{.Number}}</h1>
  <p>Requisição: {{.RequestNumber}}</p>
  <table border="1" cellpadding="6" cellspacing="0">
    <tr><th>Fornecedor</th><th>Descrição</th><th>Qtd</th><th>Valor unitário</th><th>Total</th></tr>
    <tr>
      <td>{{.VendorName}}{{if .VendorTaxID}} ({{.VendorTaxID}}){{end}}</td>
      <td>{{.Description}}</td>
      <td>{{.Quantity}}</td>
      <td>{{.UnitValue}}</td>
      <td>{{.TotalValue}}</td>
    </tr>
  </table>
  <p>Justificativa: {{.Justification}}</p>
</body>
</html>`))

type orderDocument struct {
	Number        string
	RequestNumber string
	VendorName    string
	VendorTaxID   string
	Description   string
	Quantity      int
	UnitValue     string
	TotalValue    string
	Justification string
}

// Generate renders the order PDF and stores it, returning the document
// reference.
func (g *Generator) Generate(ctx context.Context, order procurement.PurchaseOrder, item procurement.QuotationItem, request procurement.PurchaseRequest) (string, error) {
	html, err := g.renderHTML(order, item, request)
	if err != nil {
		return "", err
	}
	pdf, err := g.renderer.RenderHTML(ctx, html)
	if err != nil {
		return "", fmt.Errorf("render order %s: %w", order.Number, err)
	}
	ref, err := g.store.Save(ctx, fmt.Sprintf("orders/%s.pdf", order.Number), pdf)
	if err != nil {
		return "", fmt.Errorf("store order %s: %w", order.Number, err)
	}
	return ref, nil
}

func (g *Generator) renderHTML(order procurement.PurchaseOrder, item procurement.QuotationItem, request procurement.PurchaseRequest) (string, error) {
	doc := orderDocument{
		Number:        order.Number,
		RequestNumber: request.Number,
		VendorName:    item.VendorName,
		VendorTaxID:   item.VendorTaxID,
		Description:   item.Description,
		Quantity:      item.Quantity,
		UnitValue:     g.currency(item.UnitValue),
		TotalValue:    g.currency(item.TotalValue),
		Justification: request.Justification,
	}
	var buf bytes.Buffer
	if err := orderTemplate.Execute(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// currency renders a fixed-point value with locale-aware separators.
func (g *Generator) currency(v decimal.Decimal) string {
	f, _ := v.Float64()
	return g.printer.Sprintf("R$ %v", number.Decimal(f, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}
