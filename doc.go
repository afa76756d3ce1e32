// Package armls analyzes Azure Resource Manager deployment templates
// against their JSON schemas. It reports syntax errors and schema
// violations, and answers hover and completion requests from the schema
// element under the cursor.
//
// # Pipeline
//
// Every document is parsed with tree-sitter and kept as the latest text and
// tree for its path. An analysis pass then, per changed document:
//
//  1. Reports one error per syntax error node and stops there when any
//     exist.
//  2. Composes a minimal schema from the document's $schema: for
//     deployment templates the generic template schema is narrowed to the
//     resource types and API versions the document declares, and only
//     those provider schemas are loaded.
//  3. Validates the document and reports one warning per leaf validation
//     error, positioned on the offending node.
//  4. Runs custom Risor rules, when configured.
//
// Retrieved and composed schemas are cached for the life of the Engine.
//
// # Usage
//
//	e, err := armls.New(armls.WithSchemaDir("schemas"))
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	err = e.Open(ctx, "azuredeploy.json", text)
//	diags, err := e.Analyze(ctx)
//
//	h, err := e.Hover(ctx, "azuredeploy.json", armls.Point{Row: 8, Column: 20})
//	items, err := e.Complete(ctx, "azuredeploy.json", armls.Point{Row: 9, Column: 8})
//
// Positions are zero-based rows and byte columns.
package armls
