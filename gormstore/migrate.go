package gormstore

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/jsonapi-go/engine"
)

// AutoMigrate derives and executes CREATE TABLE IF NOT EXISTS statements for
// every resource and manyToMany through table in reg. It is the lightweight
// counterpart to the versioned goose migrations of revocation/sqlite.go:
// resource schemas are entirely registry-derived, so there's nothing to
// version (cmd/jsonapi-demo calls it at startup).
func AutoMigrate(db *gorm.DB, reg *jsonapi.Registry) error {
	seenThrough := map[string]bool{}

	for _, name := range reg.ResourceNames() {
		def := reg.MustResource(name)
		if err := db.Exec(tableDDL(def)).Error; err != nil {
			return fmt.Errorf("gormstore: migrating %q: %w", name, err)
		}
		for _, rel := range def.AllRelationships() {
			if rel.Through == "" || seenThrough[rel.Through] {
				continue
			}
			seenThrough[rel.Through] = true
			if err := db.Exec(throughDDL(rel.Through)).Error; err != nil {
				return fmt.Errorf("gormstore: migrating through table %q: %w", rel.Through, err)
			}
		}
	}
	return nil
}

func tableDDL(def *jsonapi.ResourceDefinition) string {
	var cols []string
	cols = append(cols, "id TEXT PRIMARY KEY")
	for name, field := range def.Fields {
		if name == "id" {
			continue
		}
		switch field.Kind {
		case jsonapi.FieldBelongsTo:
			cols = append(cols, fmt.Sprintf("%s TEXT", field.ForeignKeyField))
		case jsonapi.FieldPolymorphicBelongsTo:
			cols = append(cols, fmt.Sprintf("%s TEXT", field.TypeField), fmt.Sprintf("%s TEXT", field.ForeignKeyField))
		default:
			cols = append(cols, fmt.Sprintf("%s %s", name, sqlType(field.Kind)))
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", def.Name, strings.Join(cols, ", "))
}

func throughDDL(through string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (local_key TEXT NOT NULL, other_key TEXT NOT NULL, PRIMARY KEY (local_key, other_key))",
		through,
	)
}

func sqlType(kind jsonapi.FieldKind) string {
	switch kind {
	case jsonapi.FieldInteger:
		return "INTEGER"
	case jsonapi.FieldNumber:
		return "REAL"
	case jsonapi.FieldBoolean:
		return "BOOLEAN"
	case jsonapi.FieldTimestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}
