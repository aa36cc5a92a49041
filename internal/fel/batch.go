package fel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Batch renders every *.xml in dirXML into outDir (default data/out)
// and writes a manifest.json listing the artifacts. Files are
// processed in name order; the first failure aborts the batch.
func Batch(dirXML, outDir string) (*BatchResult, error) {
	if outDir == "" {
		outDir = defaultOutDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	xmls, err := filepath.Glob(filepath.Join(dirXML, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dirXML, err)
	}
	sort.Strings(xmls)

	manifest := []manifestEntry{}
	for _, xml := range xmls {
		base := strings.TrimSuffix(filepath.Base(xml), filepath.Ext(xml))
		res, err := Render(xml, filepath.Join(outDir, base+".txt"))
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", xml, err)
		}
		manifest = append(manifest, manifestEntry{
			XML:     xml,
			Voucher: res.VoucherPath,
			QR:      res.QRPath,
		})
	}

	manifestPath := filepath.Join(outDir, "manifest.json")
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	return &BatchResult{
		OK:           true,
		Count:        len(manifest),
		OutDir:       outDir,
		ManifestPath: manifestPath,
	}, nil
}
