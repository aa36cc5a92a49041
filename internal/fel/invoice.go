// Package fel reads FEL electronic invoices (SAT Guatemala DTE XML),
// validates their totals, and renders verification vouchers with a QR
// code pointing at the SAT verification portal.
package fel

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// dteNamespace is the SAT FEL document namespace.
const dteNamespace = "http://www.sat.gob.gt/dte/fel/0.2.0"

// Invoice holds the fields extracted from a FEL XML document. Money
// fields are kept as cents to avoid float drift in validation.
type Invoice struct {
	Serie          string
	NumeroDTE      string
	Autorizacion   string
	NombreEmisor   string
	NITEmisor      string
	NombreReceptor string
	IDReceptor     string
	Monto          string
	FechaEmision   string // dd/mm/yyyy
	Moneda         string

	Descripcion string
	Cantidad    string

	SubtotalCents int64
	IVACents      int64
	TotalCents    int64
}

// ReadInvoice parses a FEL XML file. Elements are matched by local
// name anywhere in the tree, since certifier wrappers nest the DTE at
// varying depths.
func ReadInvoice(path string) (*Invoice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open invoice: %w", err)
	}
	defer f.Close()
	return parseInvoice(f)
}

func parseInvoice(r io.Reader) (*Invoice, error) {
	dec := xml.NewDecoder(r)
	inv := &Invoice{}

	var current string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse invoice: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != dteNamespace {
				continue
			}
			current = t.Name.Local
			switch current {
			case "DatosGenerales":
				inv.FechaEmision = formatFecha(attr(t, "FechaHoraEmision"))
				inv.Moneda = attr(t, "CodigoMoneda")
			case "NumeroAutorizacion":
				inv.Serie = attr(t, "Serie")
				inv.NumeroDTE = attr(t, "Numero")
			case "Emisor":
				inv.NombreEmisor = attr(t, "NombreEmisor")
				inv.NITEmisor = attr(t, "NITEmisor")
			case "Receptor":
				inv.NombreReceptor = attr(t, "NombreReceptor")
				inv.IDReceptor = attr(t, "IDReceptor")
			}

		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			switch current {
			case "NumeroAutorizacion":
				inv.Autorizacion = text
			case "Precio":
				inv.Monto = text
			case "Descripcion":
				inv.Descripcion = text
			case "Cantidad":
				inv.Cantidad = text
			case "MontoGravable":
				if c, err := ParseMoney(text); err == nil {
					inv.SubtotalCents = c
				}
			case "MontoImpuesto":
				if c, err := ParseMoney(text); err == nil {
					inv.IVACents = c
				}
			case "GranTotal":
				if c, err := ParseMoney(text); err == nil {
					inv.TotalCents = c
				}
			}

		case xml.EndElement:
			current = ""
		}
	}

	return inv, nil
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// formatFecha converts an ISO timestamp to dd/mm/yyyy.
func formatFecha(raw string) string {
	date, _, _ := strings.Cut(raw, "T")
	parts := strings.Split(date, "-")
	if len(parts) != 3 {
		return raw
	}
	return fmt.Sprintf("%s/%s/%s", parts[2], parts[1], parts[0])
}

// ParseMoney converts strings like "1,234.56" into cents.
func ParseMoney(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	neg := strings.HasPrefix(whole, "-")
	if neg {
		whole = whole[1:]
	}
	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q: %w", s, err)
	}

	var cents int64
	if hasFrac {
		// Normalize to exactly two fractional digits, truncating extras.
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad amount %q: %w", s, err)
		}
		cents = f
	}

	total := w*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}

// FormatCents renders cents as a plain two-decimal amount.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
