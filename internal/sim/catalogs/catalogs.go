package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/recipes.schema.json
var recipesSchema string

type Catalogs struct {
	Items   ItemCatalog
	Fluids  FluidCatalog
	Recipes RecipeCatalog
}

type ItemCatalog struct {
	Palette    []string
	Index      map[string]uint16
	Defs       map[string]ItemDef
	DefsDigest string
}

type ItemDef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // "MATERIAL","UPGRADE","MACHINE"
}

type FluidCatalog struct {
	Defs       map[string]FluidDef
	DefsDigest string
}

type FluidDef struct {
	ID         string `json:"id"`
	BucketItem string `json:"bucket_item,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadFluids(filepath.Join(configDir, "fluids.json"), &c.Fluids); err != nil {
		return nil, err
	}
	if err := loadRecipes(filepath.Join(configDir, "recipes.json"), &c.Recipes); err != nil {
		return nil, err
	}
	if err := c.checkReferences(); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	return nil
}

func loadFluids(path string, out *FluidCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []FluidDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("fluids.json: %w", err)
	}
	out.Defs = map[string]FluidDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("fluids.json: empty id")
		}
		out.Defs[d.ID] = d
	}
	return nil
}

func loadRecipes(path string, out *RecipeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := validateRecipesJSON(raw); err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}

	var defs []RecipeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}
	rc, err := NewRecipeCatalog(defs)
	if err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}
	rc.Digest = sha256Hex(raw)
	*out = *rc
	return nil
}

func validateRecipesJSON(raw []byte) error {
	schema, err := jsonschema.CompileString("recipes.schema.json", recipesSchema)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func (c *Catalogs) checkReferences() error {
	var missing []string
	for _, id := range c.Recipes.order {
		r := c.Recipes.ByID[id]
		for _, in := range r.Inputs {
			if _, ok := c.Items.Defs[in.Item]; !ok {
				missing = append(missing, fmt.Sprintf("%s: input item %s", id, in.Item))
			}
		}
		if _, ok := c.Items.Defs[r.Output.Item]; !ok {
			missing = append(missing, fmt.Sprintf("%s: output item %s", id, r.Output.Item))
		}
		if r.Fluid != nil {
			if _, ok := c.Fluids.Defs[r.Fluid.Fluid]; !ok {
				missing = append(missing, fmt.Sprintf("%s: fluid %s", id, r.Fluid.Fluid))
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("recipes.json: unknown references: %s", strings.Join(missing, "; "))
	}
	return nil
}
