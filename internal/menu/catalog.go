// Package menu holds the static inline-menu catalog and resolves menu keys
// into renderable navigation state.
package menu

import "fmt"

// MainMenuKey is the entry point shown on /start.
const MainMenuKey = "users_main_menu"

// Option is one entry of a menu node. Exactly one action field should be
// populated; TargetKey (navigate) is the default when the others are empty.
type Option struct {
	Label             string
	TargetKey         string
	URL               string
	WebAppURL         string
	SwitchInlineQuery string
}

// Node is one entry in the static catalog. Nodes are immutable after load.
type Node struct {
	Key        string
	Text       string
	Layout     []int
	Options    []Option
	BackTarget string
}

// Catalog is a process-wide immutable lookup table of menu nodes.
type Catalog struct {
	nodes map[string]Node
}

// NewCatalog builds a catalog from the given nodes, rejecting duplicate keys.
func NewCatalog(nodes []Node) (*Catalog, error) {
	byKey := make(map[string]Node, len(nodes))
	for _, node := range nodes {
		if node.Key == "" {
			return nil, fmt.Errorf("menu node with empty key")
		}
		if _, exists := byKey[node.Key]; exists {
			return nil, fmt.Errorf("duplicate menu key %q", node.Key)
		}
		byKey[node.Key] = node
	}

	return &Catalog{nodes: byKey}, nil
}

// Default returns the catalog of built-in menus, loaded once at process start.
func Default() *Catalog {
	return defaultCatalog
}

var defaultCatalog = mustCatalog(defaultNodes)

func mustCatalog(nodes []Node) *Catalog {
	catalog, err := NewCatalog(nodes)
	if err != nil {
		panic(err)
	}
	return catalog
}

var defaultNodes = []Node{
	{
		Key:    MainMenuKey,
		Text:   "🕋 Welcome to the user panel. Pick one of the options below.",
		Layout: []int{1, 1, 1, 1},
		Options: []Option{
			{Label: "🤑 Earn money", TargetKey: "earning"},
			{Label: "🛒 Free trial & buy service", TargetKey: "buy"},
			{Label: "📚 Activation guide", TargetKey: "how_to's"},
			{Label: "🗃 My services", TargetKey: "my_services"},
		},
	},
	{
		Key:        "buy",
		Text:       "🕋 Welcome to the purchase panel. Pick one of the options below.",
		Layout:     []int{2, 1, 1},
		BackTarget: MainMenuKey,
		Options: []Option{
			{Label: "🤑 Buy server", TargetKey: "server"},
			{Label: "🛒 Buy VPN 1", TargetKey: "vpn"},
			{Label: "🛒 Buy VPN 2", TargetKey: "vpn"},
			{Label: "🛒 Buy VPN 3", TargetKey: "vpn"},
		},
	},
}
