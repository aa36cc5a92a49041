package fel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<dte:GTDocumento xmlns:dte="http://www.sat.gob.gt/dte/fel/0.2.0" Version="0.1">
  <dte:SAT ClaseDocumento="dte">
    <dte:DTE ID="DatosCertificados">
      <dte:DatosEmision ID="DatosEmision">
        <dte:DatosGenerales FechaHoraEmision="2024-05-10T14:30:00" CodigoMoneda="GTQ" Tipo="FACT"/>
        <dte:Emisor NombreEmisor="Acme Guatemala" NITEmisor="1234567"/>
        <dte:Receptor NombreReceptor="Cliente Ejemplo" IDReceptor="7654321"/>
        <dte:Items>
          <dte:Item BienOServicio="S" NumeroLinea="1">
            <dte:Cantidad>1</dte:Cantidad>
            <dte:Descripcion>Servicio profesional</dte:Descripcion>
            <dte:Precio>1,120.00</dte:Precio>
            <dte:MontoGravable>1,000.00</dte:MontoGravable>
          </dte:Item>
        </dte:Items>
        <dte:Totales>
          <dte:MontoImpuesto>120.00</dte:MontoImpuesto>
          <dte:GranTotal>1,120.00</dte:GranTotal>
        </dte:Totales>
      </dte:DatosEmision>
      <dte:Certificacion>
        <dte:NumeroAutorizacion Serie="AB12" Numero="987654">ABCD-1234-EF56-7890</dte:NumeroAutorizacion>
      </dte:Certificacion>
    </dte:DTE>
  </dte:SAT>
</dte:GTDocumento>`

func writeSample(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sampleXML), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadInvoice(t *testing.T) {
	path := writeSample(t, t.TempDir(), "inv.xml")
	inv, err := ReadInvoice(path)
	if err != nil {
		t.Fatalf("ReadInvoice failed: %v", err)
	}

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"Serie", inv.Serie, "AB12"},
		{"NumeroDTE", inv.NumeroDTE, "987654"},
		{"Autorizacion", inv.Autorizacion, "ABCD-1234-EF56-7890"},
		{"NombreEmisor", inv.NombreEmisor, "Acme Guatemala"},
		{"NITEmisor", inv.NITEmisor, "1234567"},
		{"NombreReceptor", inv.NombreReceptor, "Cliente Ejemplo"},
		{"IDReceptor", inv.IDReceptor, "7654321"},
		{"Monto", inv.Monto, "1,120.00"},
		{"FechaEmision", inv.FechaEmision, "10/05/2024"},
		{"Moneda", inv.Moneda, "GTQ"},
		{"Descripcion", inv.Descripcion, "Servicio profesional"},
		{"Cantidad", inv.Cantidad, "1"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s = %q, want %q", tc.name, tc.got, tc.want)
		}
	}

	if inv.SubtotalCents != 100000 {
		t.Errorf("SubtotalCents = %d, want 100000", inv.SubtotalCents)
	}
	if inv.IVACents != 12000 {
		t.Errorf("IVACents = %d, want 12000", inv.IVACents)
	}
	if inv.TotalCents != 112000 {
		t.Errorf("TotalCents = %d, want 112000", inv.TotalCents)
	}
}

func TestReadInvoiceMissingFile(t *testing.T) {
	if _, err := ReadInvoice(filepath.Join(t.TempDir(), "nope.xml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1,234.56", 123456, false},
		{"1000", 100000, false},
		{"0.5", 50, false},
		{"0.05", 5, false},
		{"120.00", 12000, false},
		{"-3.25", -325, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMoney(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMoney(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMoney(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestValidateOK(t *testing.T) {
	path := writeSample(t, t.TempDir(), "inv.xml")
	inv, err := ReadInvoice(path)
	if err != nil {
		t.Fatal(err)
	}
	res := Validate(inv)
	if !res.OK {
		t.Fatalf("Validate not OK: %v", res.Issues)
	}
	if res.Totals["total"] != "1120.00" {
		t.Errorf("totals.total = %q, want 1120.00", res.Totals["total"])
	}
}

func TestValidateVATMismatch(t *testing.T) {
	inv := &Invoice{
		Autorizacion:  "X",
		NITEmisor:     "1",
		IDReceptor:    "2",
		Monto:         "112.00",
		SubtotalCents: 10000,
		IVACents:      1000, // should be 1200
		TotalCents:    11000,
	}
	res := Validate(inv)
	if res.OK {
		t.Fatal("Validate OK despite VAT mismatch")
	}
	var sawVAT, sawTotal bool
	for _, issue := range res.Issues {
		if strings.HasPrefix(issue, "VAT mismatch") {
			sawVAT = true
		}
		if strings.HasPrefix(issue, "Total mismatch") {
			sawTotal = true
		}
	}
	if !sawVAT || !sawTotal {
		t.Errorf("issues = %v, want VAT and Total mismatches", res.Issues)
	}
}

func TestValidateMissingFields(t *testing.T) {
	inv := &Invoice{SubtotalCents: 10000, IVACents: 1200, TotalCents: 11200}
	res := Validate(inv)
	if res.OK {
		t.Fatal("Validate OK despite missing fields")
	}
	want := []string{
		"Missing field: numero_autorizacion",
		"Missing field: nit",
		"Missing field: id_receptor",
		"Missing field: monto",
	}
	for _, w := range want {
		found := false
		for _, issue := range res.Issues {
			if issue == w {
				found = true
			}
		}
		if !found {
			t.Errorf("missing issue %q in %v", w, res.Issues)
		}
	}
}

func TestValidateHalfUpRounding(t *testing.T) {
	// 10.46 * 12% = 1.2552 → 1.26 after half-up.
	inv := &Invoice{
		Autorizacion:  "X",
		NITEmisor:     "1",
		IDReceptor:    "2",
		Monto:         "11.72",
		SubtotalCents: 1046,
		IVACents:      126,
		TotalCents:    1172,
	}
	if res := Validate(inv); !res.OK {
		t.Errorf("Validate not OK: %v", res.Issues)
	}
}

func TestVerificationURL(t *testing.T) {
	inv := &Invoice{
		Autorizacion: "AUTH-1",
		NITEmisor:    "123",
		IDReceptor:   "456",
		Monto:        "1120.00",
	}
	u := VerificationURL(inv)
	for _, want := range []string{
		"felpub.c.sat.gob.gt",
		"tipo=autorizacion",
		"numero=AUTH-1",
		"emisor=123",
		"receptor=456",
		"monto=1120.00",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("URL %q missing %q", u, want)
		}
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	xmlPath := writeSample(t, dir, "inv.xml")
	outPath := filepath.Join(dir, "out", "inv.txt")

	res, err := Render(xmlPath, outPath)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !res.OK || res.VoucherPath != outPath {
		t.Errorf("result = %+v", res)
	}

	voucher, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read voucher: %v", err)
	}
	for _, want := range []string{"Acme Guatemala", "ABCD-1234-EF56-7890", "Total:          1120.00", "Verificacion SAT:"} {
		if !strings.Contains(string(voucher), want) {
			t.Errorf("voucher missing %q", want)
		}
	}

	if _, err := os.Stat(res.QRPath); err != nil {
		t.Errorf("QR file missing: %v", err)
	}
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, "a.xml")
	writeSample(t, dir, "b.xml")
	outDir := filepath.Join(dir, "out")

	res, err := Batch(dir, outDir)
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if res.Count != 2 {
		t.Errorf("Count = %d, want 2", res.Count)
	}

	data, err := os.ReadFile(res.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest []map[string]string
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if len(manifest) != 2 {
		t.Fatalf("manifest entries = %d, want 2", len(manifest))
	}
	for _, entry := range manifest {
		if _, err := os.Stat(entry["voucher"]); err != nil {
			t.Errorf("voucher %q missing: %v", entry["voucher"], err)
		}
	}
}
