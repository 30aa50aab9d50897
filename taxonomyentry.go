package netsift

// TaxonomyEntry is one label of a platform's feature taxonomy: its human
// definitions, its domain grouping, the configuration regexes that detect
// it, and the show commands that verify it.
//
// Entries are immutable after load. Pattern authors must anchor config
// regex to configuration context (line start or an explicit section prefix):
// a pattern that fires on an ornamental mention, like an SNMP trap line
// naming a routing protocol that is not actually configured, is a taxonomy
// bug, not an extractor bug.
type TaxonomyEntry struct {
	Platform Platform `json:"platform"`
	Label    string   `json:"label"`

	Definition     string `json:"definition"`
	AntiDefinition string `json:"anti_definition,omitempty"`
	Domain         string `json:"domain,omitempty"`

	ConfigRegex  []string `json:"config_regex"`
	ShowCommands []string `json:"show_commands,omitempty"`
}
