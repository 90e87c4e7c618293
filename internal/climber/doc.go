// Package climber defines the catalogue the Climber Engine server exposes:
// five model-backed coaching tools, the climber://user/* resources read from
// the owner directory, and three prompt templates.
package climber
