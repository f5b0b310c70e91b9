package menu

// ActionKind discriminates what pressing a button does.
type ActionKind string

const (
	ActionNavigate     ActionKind = "navigate"
	ActionOpenURL      ActionKind = "open_url"
	ActionOpenWebApp   ActionKind = "open_web_app"
	ActionSwitchInline ActionKind = "switch_inline_query"
)

// BackButtonLabel is the label of the appended back-navigation row.
const BackButtonLabel = "🔙 Back"

// fallbackRowWidth is used for options not covered by a node's layout.
const fallbackRowWidth = 2

// Action is what a rendered button does when pressed.
type Action struct {
	Kind  ActionKind
	Value string
}

// Button is a presentable menu button.
type Button struct {
	Label  string
	Action Action
}

// RenderedMenu is the presentable navigation state for one menu key.
type RenderedMenu struct {
	Text string
	Rows [][]Button
}

// Buttons returns all buttons in render order, rows flattened.
func (m RenderedMenu) Buttons() []Button {
	var out []Button
	for _, row := range m.Rows {
		out = append(out, row...)
	}
	return out
}

// Resolve turns a menu key into its renderable state. A missing key is a
// normal miss reported through the boolean, not an error.
func (c *Catalog) Resolve(key string) (RenderedMenu, bool) {
	if c == nil {
		return RenderedMenu{}, false
	}

	node, ok := c.nodes[key]
	if !ok {
		return RenderedMenu{}, false
	}

	buttons := make([]Button, 0, len(node.Options))
	for _, opt := range node.Options {
		buttons = append(buttons, Button{
			Label:  opt.Label,
			Action: actionFor(opt),
		})
	}

	rows := arrangeRows(buttons, node.Layout)

	if node.BackTarget != "" {
		rows = append(rows, []Button{{
			Label:  BackButtonLabel,
			Action: Action{Kind: ActionNavigate, Value: node.BackTarget},
		}})
	}

	return RenderedMenu{Text: node.Text, Rows: rows}, true
}

func actionFor(opt Option) Action {
	switch {
	case opt.URL != "":
		return Action{Kind: ActionOpenURL, Value: opt.URL}
	case opt.WebAppURL != "":
		return Action{Kind: ActionOpenWebApp, Value: opt.WebAppURL}
	case opt.SwitchInlineQuery != "":
		return Action{Kind: ActionSwitchInline, Value: opt.SwitchInlineQuery}
	default:
		return Action{Kind: ActionNavigate, Value: opt.TargetKey}
	}
}

// arrangeRows wraps buttons into rows: row i holds layout[i] consecutive
// buttons; anything beyond the layout wraps at the fallback width.
func arrangeRows(buttons []Button, layout []int) [][]Button {
	var rows [][]Button

	i := 0
	for _, width := range layout {
		if i >= len(buttons) {
			return rows
		}
		if width < 1 {
			width = 1
		}
		end := i + width
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
		i = end
	}

	for i < len(buttons) {
		end := i + fallbackRowWidth
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
		i = end
	}

	return rows
}
