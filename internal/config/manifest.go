package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Image job targets.
const (
	TableProducts   = "products"
	TableCategories = "categories"
)

// Match modes for resolving the rows an image job applies to.
const (
	MatchExact    = "exact"
	MatchContains = "contains"
)

// ImageManifest lists the images a batch run generates.
type ImageManifest struct {
	Bucket string     `yaml:"bucket"`
	Jobs   []ImageJob `yaml:"jobs"`
}

// ImageJob generates one image for the first row matching it.
type ImageJob struct {
	Name     string `yaml:"name"`
	Table    string `yaml:"table"`
	Match    string `yaml:"match"`
	Mode     string `yaml:"mode"`
	Prompt   string `yaml:"prompt"`
	FileName string `yaml:"file_name"`
}

// Pattern returns the row name to match, defaulting to the job name.
func (j ImageJob) Pattern() string {
	if j.Match != "" {
		return j.Match
	}
	return j.Name
}

// Matches reports whether a row called name is covered by the job.
func (j ImageJob) Matches(name string) bool {
	pattern := j.Pattern()
	if j.Mode == MatchContains {
		return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
	}
	return strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(pattern))
}

// LoadImageManifest loads and validates a manifest file.
func LoadImageManifest(path string) (*ImageManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image manifest: %w", err)
	}
	return ParseImageManifest(data)
}

// ParseImageManifest decodes and validates manifest YAML.
func ParseImageManifest(data []byte) (*ImageManifest, error) {
	var m ImageManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse image manifest: %w", err)
	}
	for i := range m.Jobs {
		job := &m.Jobs[i]
		if job.Table == "" {
			job.Table = TableProducts
		}
		if job.Mode == "" {
			job.Mode = MatchExact
		}
		if job.Name == "" {
			return nil, fmt.Errorf("job %d: name is required", i)
		}
		if job.Prompt == "" {
			return nil, fmt.Errorf("job %s: prompt is required", job.Name)
		}
		if job.Table != TableProducts && job.Table != TableCategories {
			return nil, fmt.Errorf("job %s: unknown table %q", job.Name, job.Table)
		}
		if job.Mode != MatchExact && job.Mode != MatchContains {
			return nil, fmt.Errorf("job %s: unknown match mode %q", job.Name, job.Mode)
		}
	}
	return &m, nil
}

// LoadImageManifestOrDefault loads path or returns the built-in manifest.
func LoadImageManifestOrDefault(path string) *ImageManifest {
	m, err := LoadImageManifest(path)
	if err != nil {
		return DefaultImageManifest()
	}
	return m
}

// DefaultImageManifest returns the built-in menu image list.
func DefaultImageManifest() *ImageManifest {
	const style = ", restaurant presentation, natural lighting, professional food photography"
	return &ImageManifest{
		Bucket: "product-images",
		Jobs: []ImageJob{
			{Name: "Agua de Jamaica", Table: TableProducts, Match: "Agua de Jamaica (400ml)", Mode: MatchExact,
				Prompt: "Refreshing agua de jamaica in a tall glass with ice, traditional Mexican drink" + style, FileName: "agua-jamaica.jpg"},
			{Name: "Arroz Mexicano", Table: TableProducts, Match: "arroz", Mode: MatchContains,
				Prompt: "Traditional Mexican rice with vegetables served on a ceramic plate" + style, FileName: "arroz-mexicano.jpg"},
			{Name: "Barbacoa de Res", Table: TableProducts, Mode: MatchExact,
				Prompt: "Beef barbacoa served with rice, beans and guacamole" + style, FileName: "barbacoa-res.jpg"},
			{Name: "Bistec Asado", Table: TableProducts, Mode: MatchExact,
				Prompt: "Grilled beef steak with beans, lettuce and tomato salad" + style, FileName: "bistec-asado.jpg"},
			{Name: "Café", Table: TableProducts, Match: "Café Americano / Capuccino", Mode: MatchExact,
				Prompt: "Café de olla in a rustic clay mug with steam rising" + style, FileName: "cafe-olla.jpg"},
			{Name: "Bebidas", Table: TableCategories, Mode: MatchExact,
				Prompt: "Traditional Mexican beverages collection, agua fresca and café de olla" + style, FileName: "category-bebidas.jpg"},
			{Name: "Bebidas con Alcohol", Table: TableCategories, Mode: MatchExact,
				Prompt: "Mexican beer and margarita cocktails in a bar setting" + style, FileName: "category-bebidas-alcohol.jpg"},
			{Name: "Chilaquiles", Table: TableCategories, Mode: MatchExact,
				Prompt: "Chilaquiles with green sauce, cheese, onion and cream" + style, FileName: "category-chilaquiles.jpg"},
			{Name: "Especialidades", Table: TableCategories, Mode: MatchExact,
				Prompt: "Mexican specialty platter with mole and tacos" + style, FileName: "category-especialidades.jpg"},
			{Name: "Tequilas y Mezcal", Table: TableCategories, Mode: MatchExact,
				Prompt: "Tequila and mezcal bottles with shot glasses" + style, FileName: "category-tequilas-mezcal.jpg"},
		},
	}
}
