package models

// Category is a named group of distinct item names. The item order is the
// master list order shared by every draft of the same ruleset.
type Category struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}
