package ingest

import (
	"fmt"
	"strings"

	"github.com/janelia-flyem/mipvol/mipvol"
)

// TemplateKind selects how a destination path template is resolved.
type TemplateKind uint8

const (
	// LiteralPath uses the template unchanged.
	LiteralPath TemplateKind = iota

	// PositionalKeywords replaces each "{}" in order with a caller keyword.
	PositionalKeywords

	// CoordinateSuffix replaces a single "{}" with a name derived from the region.
	CoordinateSuffix
)

func (k TemplateKind) String() string {
	switch k {
	case LiteralPath:
		return "literal"
	case PositionalKeywords:
		return "positional-keywords"
	case CoordinateSuffix:
		return "coordinate-suffix"
	}
	return fmt.Sprintf("template kind %d", uint8(k))
}

// ParseTemplateKind returns the kind for names like "coordinate-suffix".
func ParseTemplateKind(name string) (TemplateKind, error) {
	for _, k := range []TemplateKind{LiteralPath, PositionalKeywords, CoordinateSuffix} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown path template kind %q", name)
}

const placeholder = "{}"

// PathTemplate is a destination path pattern plus how to fill it.
type PathTemplate struct {
	Kind    TemplateKind
	Pattern string
}

// DetectTemplate picks a kind for pattern: literal without placeholders,
// positional when keywords are given, else a coordinate suffix.
func DetectTemplate(pattern string, keywords []string) PathTemplate {
	switch {
	case !strings.Contains(pattern, placeholder):
		return PathTemplate{LiteralPath, pattern}
	case len(keywords) > 0:
		return PathTemplate{PositionalKeywords, pattern}
	default:
		return PathTemplate{CoordinateSuffix, pattern}
	}
}

// PathRegion is the region used to name coordinate-suffix paths.  If Center and
// Size are set the name is "x{cx}_y{cy}_z{cz}_s{sx}-{sy}-{sz}", otherwise
// "{x0}-{x1}_{y0}-{y1}_{z0}-{z1}" from Bbox.  Names are x, y, z ordered like
// precomputed chunk names.
type PathRegion struct {
	Bbox   mipvol.Bbox
	Center *mipvol.Point3d
	Size   *mipvol.Point3d
}

func (r PathRegion) name() string {
	if r.Center != nil && r.Size != nil {
		c, s := r.Center.XYZ(), r.Size.XYZ()
		return fmt.Sprintf("x%d_y%d_z%d_s%d-%d-%d", c[0], c[1], c[2], s[0], s[1], s[2])
	}
	lo, hi := r.Bbox.Min.XYZ(), r.Bbox.Max.XYZ()
	return fmt.Sprintf("%d-%d_%d-%d_%d-%d", lo[0], hi[0], lo[1], hi[1], lo[2], hi[2])
}

// ResolvePath returns the destination path for a template.  A non-empty tag is
// appended as a path element.
func ResolvePath(t PathTemplate, keywords []string, region PathRegion, tag string) (string, error) {
	var path string
	switch t.Kind {
	case LiteralPath:
		path = t.Pattern
	case PositionalKeywords:
		n := strings.Count(t.Pattern, placeholder)
		if n > len(keywords) {
			return "", fmt.Errorf("path template %q needs %d keywords, got %d", t.Pattern, n, len(keywords))
		}
		path = t.Pattern
		for _, kw := range keywords[:n] {
			path = strings.Replace(path, placeholder, kw, 1)
		}
	case CoordinateSuffix:
		if n := strings.Count(t.Pattern, placeholder); n != 1 {
			return "", fmt.Errorf("coordinate suffix template %q must have exactly one %q, has %d", t.Pattern, placeholder, n)
		}
		path = strings.Replace(t.Pattern, placeholder, region.name(), 1)
	default:
		return "", fmt.Errorf("unknown path template kind %d", uint8(t.Kind))
	}
	if tag != "" {
		if strings.HasSuffix(path, "/") {
			path += tag
		} else {
			path += "/" + tag
		}
	}
	return path, nil
}
