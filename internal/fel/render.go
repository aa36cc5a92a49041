package fel

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	satVerifierURL = "https://felpub.c.sat.gob.gt/verificador-web/publico/vistas/verificacionDte.jsf"

	// defaultQRSize is the QR PNG edge length in pixels.
	defaultQRSize = 256

	defaultOutDir = "data/out"
)

// RenderResult reports the artifacts produced for one invoice.
type RenderResult struct {
	OK          bool   `json:"ok"`
	VoucherPath string `json:"voucher_path"`
	QRPath      string `json:"qr_path"`
}

// VerificationURL builds the SAT portal URL encoding the invoice's
// authorization, issuer, receiver, and amount.
func VerificationURL(inv *Invoice) string {
	q := url.Values{}
	q.Set("tipo", "autorizacion")
	q.Set("numero", inv.Autorizacion)
	q.Set("emisor", inv.NITEmisor)
	q.Set("receptor", inv.IDReceptor)
	q.Set("monto", inv.Monto)
	return satVerifierURL + "?" + q.Encode()
}

// Render writes a plain-text voucher and a verification QR PNG for the
// invoice at xmlPath. outPath names the voucher file; empty picks a
// default under data/out. The QR lands next to the voucher with a
// .png extension.
func Render(xmlPath, outPath string) (*RenderResult, error) {
	inv, err := ReadInvoice(xmlPath)
	if err != nil {
		return nil, err
	}

	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(xmlPath), filepath.Ext(xmlPath))
		outPath = filepath.Join(defaultOutDir, base+".txt")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	verifyURL := VerificationURL(inv)

	if err := os.WriteFile(outPath, []byte(voucherText(inv, verifyURL)), 0o644); err != nil {
		return nil, fmt.Errorf("write voucher: %w", err)
	}

	qrPath := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".png"
	if err := qrcode.WriteFile(verifyURL, qrcode.Medium, defaultQRSize, qrPath); err != nil {
		return nil, fmt.Errorf("write QR: %w", err)
	}

	return &RenderResult{OK: true, VoucherPath: outPath, QRPath: qrPath}, nil
}

// voucherText composes the human-readable voucher body.
func voucherText(inv *Invoice, verifyURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FACTURA ELECTRONICA EN LINEA (FEL)\n")
	fmt.Fprintf(&b, "==================================\n\n")
	fmt.Fprintf(&b, "Serie:          %s\n", inv.Serie)
	fmt.Fprintf(&b, "Numero DTE:     %s\n", inv.NumeroDTE)
	fmt.Fprintf(&b, "Autorizacion:   %s\n\n", inv.Autorizacion)
	fmt.Fprintf(&b, "Emisor:         %s (NIT %s)\n", inv.NombreEmisor, inv.NITEmisor)
	fmt.Fprintf(&b, "Receptor:       %s (NIT %s)\n", inv.NombreReceptor, inv.IDReceptor)
	fmt.Fprintf(&b, "Fecha emision:  %s\n", inv.FechaEmision)
	fmt.Fprintf(&b, "Moneda:         %s\n\n", inv.Moneda)
	fmt.Fprintf(&b, "Concepto:       %s\n", inv.Descripcion)
	fmt.Fprintf(&b, "Cantidad:       %s\n\n", inv.Cantidad)
	fmt.Fprintf(&b, "Subtotal:       %s\n", FormatCents(inv.SubtotalCents))
	fmt.Fprintf(&b, "IVA 12%%:        %s\n", FormatCents(inv.IVACents))
	fmt.Fprintf(&b, "Total:          %s\n\n", FormatCents(inv.TotalCents))
	fmt.Fprintf(&b, "Certificador: Superintendencia de Administracion Tributaria\n")
	fmt.Fprintf(&b, "Verificacion SAT: %s\n", verifyURL)
	return b.String()
}

// BatchResult reports a directory render.
type BatchResult struct {
	OK           bool   `json:"ok"`
	Count        int    `json:"count"`
	OutDir       string `json:"out_dir"`
	ManifestPath string `json:"manifest_path"`
}

// manifestEntry is one line item in the batch manifest.
type manifestEntry struct {
	XML     string `json:"xml"`
	Voucher string `json:"voucher"`
	QR      string `json:"qr"`
}
