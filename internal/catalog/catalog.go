// Package catalog holds the ruleset's category master lists: the ordered
// categories of distinct item names every draft starts from.
package catalog

import (
	"fmt"
	"os"

	"github.com/blockdraft/blockdraft/internal/models"
	"gopkg.in/yaml.v3"
)

// Catalog is an immutable, ordered set of categories.
type Catalog struct {
	Categories []models.Category `yaml:"categories"`
}

// Load reads a catalog from a YAML file and validates it.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks the catalog invariants: at least one category, nonempty
// names, and item names unique within their category.
func (c *Catalog) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("catalog has no categories")
	}
	seenCategories := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("category with empty name")
		}
		if seenCategories[cat.Name] {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		seenCategories[cat.Name] = true

		if len(cat.Items) == 0 {
			return fmt.Errorf("category %q has no items", cat.Name)
		}
		seenItems := make(map[string]bool, len(cat.Items))
		for _, item := range cat.Items {
			if item == "" {
				return fmt.Errorf("category %q has an empty item name", cat.Name)
			}
			if seenItems[item] {
				return fmt.Errorf("duplicate item %q in category %q", item, cat.Name)
			}
			seenItems[item] = true
		}
	}
	return nil
}

// NumCategories returns the number of categories in the catalog.
func (c *Catalog) NumCategories() int {
	return len(c.Categories)
}

// CategoriesCopy returns a deep copy of the category list so callers can
// hand it to a draft without aliasing the shared master lists.
func (c *Catalog) CategoriesCopy() []models.Category {
	out := make([]models.Category, len(c.Categories))
	for i, cat := range c.Categories {
		items := make([]string, len(cat.Items))
		copy(items, cat.Items)
		out[i] = models.Category{Name: cat.Name, Items: items}
	}
	return out
}

// Default returns the built-in ruleset used when no catalog file is
// configured.
func Default() *Catalog {
	return &Catalog{Categories: []models.Category{
		{Name: "Biomes", Items: []string{"Mesa", "Jungle", "Snowy", "Mega Taiga", "Mushroom"}},
		{Name: "Armour", Items: []string{"Helmet", "Chestplate", "Leggings", "Boots", "Bucket"}},
		{Name: "Tools", Items: []string{"Sword", "Pickaxe", "Shovel", "Hoe", "Axe", "Trident"}},
		{Name: "Multi-Part Advancements", Items: []string{"Catalogue", "Adventuring", "Two by Two", "Monsters", "Balanced Diet"}},
		{Name: "Misc", Items: []string{"Leads", "Fire Res", "Breeds", "Hives", "Crossbow", "Shulker"}},
		{Name: "Early Game", Items: []string{"Fireworks", "Shulker Box", "Obsidian", "Logs", "Eyes", "Rod Rates"}},
	}}
}
