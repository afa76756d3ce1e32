package runtime

import (
	"context"
	"fmt"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/samvidmistry/Armls/internal/cst"
	"github.com/samvidmistry/Armls/internal/docpath"
)

// nodeObject proxies a node, mapping a Go nil to Risor nil.
func nodeObject(n *sitter.Node) object.Object {
	if n == nil {
		return object.Nil
	}
	p, err := object.NewProxy(n)
	if err != nil {
		return object.Errorf("proxy error: %v", err)
	}
	return p
}

// nodeArg unwraps a proxied node argument.
func nodeArg(fn string, arg object.Object) (*sitter.Node, *object.Error) {
	proxy, ok := arg.(*object.Proxy)
	if !ok {
		return nil, object.Errorf("%s: expected proxy (Node), got %s", fn, arg.Type())
	}
	node, ok := proxy.Interface().(*sitter.Node)
	if !ok {
		return nil, object.Errorf("%s: expected *sitter.Node, got %T", fn, proxy.Interface())
	}
	return node, nil
}

// makeNodeTextFn creates the "node_text" host function.
//
// node_text(node) → string
//
// Exists because Risor's proxy system cannot convert strings to []byte
// for node.Content([]byte).
func makeNodeTextFn(tree *cst.Tree) *object.Builtin {
	return object.NewBuiltin("node_text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_text", 1, len(args))
		}
		node, errObj := nodeArg("node_text", args[0])
		if errObj != nil {
			return errObj
		}
		return object.NewString(tree.Text(node))
	})
}

// makeNodeValueFn creates "node_value", the decoded content of a string
// node, or the literal text of any other node.
//
// node_value(node) → string
func makeNodeValueFn(tree *cst.Tree) *object.Builtin {
	return object.NewBuiltin("node_value", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_value", 1, len(args))
		}
		node, errObj := nodeArg("node_value", args[0])
		if errObj != nil {
			return errObj
		}
		if node.Type() == "string" {
			return object.NewString(tree.Unquote(node))
		}
		return object.NewString(tree.Text(node))
	})
}

// makeQueryFn creates the "query" host function.
//
// query(pattern, node) → []map[string]any
//
// Each map has capture names as keys and proxied Nodes as values.
func makeQueryFn(tree *cst.Tree) *object.Builtin {
	return object.NewBuiltin("query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("query", 2, len(args))
		}

		patternStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("query: pattern must be a string, got %s", args[0].Type())
		}

		node, errObj := nodeArg("query", args[1])
		if errObj != nil {
			return errObj
		}

		matches, err := tree.Query(patternStr.Value(), node)
		if err != nil {
			return object.Errorf("query: %v", err)
		}

		results := make([]object.Object, 0, len(matches))
		for _, match := range matches {
			matchMap := make(map[string]object.Object, len(match))
			for name, captured := range match {
				matchMap[name] = nodeObject(captured)
			}
			results = append(results, object.NewMap(matchMap))
		}
		return object.NewList(results)
	})
}

// makeNodeChildFn creates "node_child", a safe wrapper for ChildByFieldName
// that returns Risor nil instead of a proxied Go nil pointer.
//
// node_child(node, fieldName) → Node or nil
func makeNodeChildFn() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("node_child", 2, len(args))
		}
		node, errObj := nodeArg("node_child", args[0])
		if errObj != nil {
			return errObj
		}
		fieldStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("node_child: field must be a string, got %s", args[1].Type())
		}
		return nodeObject(node.ChildByFieldName(fieldStr.Value()))
	})
}

// makeMemberFn creates "member", the value stored under a key of an
// object node.
//
// member(object, key) → Node or nil
func makeMemberFn(tree *cst.Tree) *object.Builtin {
	return object.NewBuiltin("member", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("member", 2, len(args))
		}
		node, errObj := nodeArg("member", args[0])
		if errObj != nil {
			return errObj
		}
		key, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("member: key must be a string, got %s", args[1].Type())
		}
		return nodeObject(tree.Member(node, key.Value()))
	})
}

// makeJSONPathFn creates "json_path", the document path of a node, with
// resource declarations contributing their type.
//
// json_path(node) → []string
func makeJSONPathFn(tree *cst.Tree) *object.Builtin {
	return object.NewBuiltin("json_path", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("json_path", 1, len(args))
		}
		node, errObj := nodeArg("json_path", args[0])
		if errObj != nil {
			return errObj
		}
		path, err := docpath.Resolve(tree, node)
		if err != nil {
			return object.Errorf("json_path: %v", err)
		}
		items := make([]object.Object, len(path))
		for i, seg := range path {
			items[i] = object.NewString(seg)
		}
		return object.NewList(items)
	})
}

// reporter collects the findings of one rule run.
type reporter struct {
	rule     string
	findings []Finding
}

// makeReportFn creates the "report" host function. A nil node reports at
// the start of the document; severity defaults to warning.
//
// report(node, message[, severity])
func makeReportFn(rep *reporter) *object.Builtin {
	return object.NewBuiltin("report", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.Errorf("report: expected 2 or 3 arguments, got %d", len(args))
		}
		f := Finding{Rule: rep.rule, Severity: SeverityWarning}
		if args[0] != object.Nil {
			node, errObj := nodeArg("report", args[0])
			if errObj != nil {
				return errObj
			}
			f.Start, f.End = node.StartPoint(), node.EndPoint()
		}
		msg, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("report: message must be a string, got %s", args[1].Type())
		}
		f.Message = msg.Value()
		if len(args) == 3 {
			sev, ok := args[2].(*object.String)
			if !ok {
				return object.Errorf("report: severity must be a string, got %s", args[2].Type())
			}
			switch sev.Value() {
			case SeverityError, SeverityWarning, SeverityInformation, SeverityHint:
				f.Severity = sev.Value()
			case "info":
				f.Severity = SeverityInformation
			default:
				return object.Errorf("report: unknown severity %q", sev.Value())
			}
		}
		rep.findings = append(rep.findings, f)
		return object.Nil
	})
}

// logObject provides log.info/warn/error methods for rule scripts.
type logObject struct {
	prefix string
}

func (l *logObject) Info(msg string) {
	log.Info(fmt.Sprintf("[%s] %s", l.prefix, msg))
}

func (l *logObject) Warn(msg string) {
	log.Warning(fmt.Sprintf("[%s] %s", l.prefix, msg))
}

func (l *logObject) Error(msg string) {
	log.Error(fmt.Sprintf("[%s] %s", l.prefix, msg))
}
