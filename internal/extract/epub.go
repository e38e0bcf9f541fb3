package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
)

const xhtmlMediaType = "application/xhtml+xml"

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// extractEPUB returns the text of every XHTML document in reading order,
// one newline after each.
func extractEPUB(name string) (string, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var container epubContainer
	if err := decodeXML(files, "META-INF/container.xml", &container); err != nil {
		return "", err
	}
	if len(container.Rootfiles) == 0 {
		return "", errors.New("epub container lists no rootfile")
	}
	opfPath := container.Rootfiles[0].FullPath

	var pkg epubPackage
	if err := decodeXML(files, opfPath, &pkg); err != nil {
		return "", err
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	var order []string
	for _, item := range pkg.Manifest {
		if item.MediaType != xhtmlMediaType {
			continue
		}
		hrefs[item.ID] = item.Href
		order = append(order, item.ID)
	}
	// Prefer spine order and fall back to manifest order.
	if len(pkg.Spine) > 0 {
		order = order[:0]
		for _, ref := range pkg.Spine {
			if _, ok := hrefs[ref.IDRef]; ok {
				order = append(order, ref.IDRef)
			}
		}
	}

	base := path.Dir(opfPath)
	var out []byte
	for _, id := range order {
		f, ok := files[path.Join(base, hrefs[id])]
		if !ok {
			continue
		}
		text, err := zipHTMLText(f)
		if err != nil {
			return "", fmt.Errorf("%s: %w", f.Name, err)
		}
		out = append(out, text...)
		out = append(out, '\n')
	}
	return string(out), nil
}

func decodeXML(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("epub is missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

func zipHTMLText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return HTMLToText(io.LimitReader(rc, 64<<20))
}
