// Package config loads application settings with viper.
//
// Sources, lowest precedence first: built-in defaults, the YAML file
// ($HOME/.highlights.yaml or ./.highlights.yaml, or --config), environment
// variables and finally bound command line flags. Every key can be set from
// the environment with the HIGHLIGHTS_ prefix and dots replaced by
// underscores:
//
//	HIGHLIGHTS_SEARCH_HYBRID_ALPHA=0.5
//	HIGHLIGHTS_INDEX_LEXICAL=bleve
//	HIGHLIGHTS_INDEX_PG_DSN=postgres://localhost/highlights
//
// Provider keys also fall back to JINA_API_KEY and OPENAI_API_KEY.
package config
