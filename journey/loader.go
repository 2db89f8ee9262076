package journey

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Wire form of a journey definition. The document root is "journey":
//
//	{
//	  "journey": {
//	    "name": "order-fulfilment",
//	    "process_variables": [{"name": "total", "type": "long", "value": "0"}],
//	    "tickets": [{"name": "abort", "step": "cleanup"}],
//	    "flow": [
//	      {"type": "TASK", "name": "reserve", "component": "reserveStock", "next": "pick"},
//	      ...
//	    ]
//	  }
//	}
//
// The same schema is accepted as YAML by LoadYAML.
type journeyFile struct {
	Journey journeyDoc `json:"journey" yaml:"journey"`
}

type journeyDoc struct {
	Name             string        `json:"name" yaml:"name"`
	ProcessVariables []variableDef `json:"process_variables,omitempty" yaml:"process_variables,omitempty"`
	Tickets          []ticketDef   `json:"tickets,omitempty" yaml:"tickets,omitempty"`
	Flow             []nodeDef     `json:"flow" yaml:"flow"`
}

type variableDef struct {
	Name  string  `json:"name" yaml:"name"`
	Type  VarType `json:"type" yaml:"type"`
	Value any     `json:"value" yaml:"value"`
}

type ticketDef struct {
	Name string `json:"name" yaml:"name"`
	Step string `json:"step" yaml:"step"`
}

type nodeDef struct {
	Type      NodeType    `json:"type" yaml:"type"`
	Name      string      `json:"name" yaml:"name"`
	Component string      `json:"component,omitempty" yaml:"component,omitempty"`
	UserData  string      `json:"user_data,omitempty" yaml:"user_data,omitempty"`
	Next      string      `json:"next,omitempty" yaml:"next,omitempty"`
	Branches  []branchDef `json:"branches,omitempty" yaml:"branches,omitempty"`
}

type branchDef struct {
	Name string `json:"name" yaml:"name"`
	Next string `json:"next" yaml:"next"`
}

// LoadJSON parses and validates a journey definition from its JSON wire
// form. pathSeparator must match the engine's configured separator so
// branch labels can be checked against it; pass DefaultPathSeparator
// unless the engine is configured otherwise.
func LoadJSON(data []byte, pathSeparator string) (*Journey, error) {
	var file journeyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, engineErrWrap(CodeDefinitionInvalid, "journey document is not valid JSON", err)
	}
	return fromDoc(file.Journey, pathSeparator)
}

// LoadYAML parses and validates a journey definition from YAML carrying
// the same schema as the JSON form.
func LoadYAML(data []byte, pathSeparator string) (*Journey, error) {
	var file journeyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, engineErrWrap(CodeDefinitionInvalid, "journey document is not valid YAML", err)
	}
	return fromDoc(file.Journey, pathSeparator)
}

func fromDoc(doc journeyDoc, pathSeparator string) (*Journey, error) {
	jny := &Journey{Name: doc.Name}
	for _, nd := range doc.Flow {
		node := Node{
			Type:      nd.Type,
			Name:      nd.Name,
			Component: nd.Component,
			UserData:  nd.UserData,
			Next:      nd.Next,
		}
		for _, bd := range nd.Branches {
			node.Branches = append(node.Branches, Branch{Name: bd.Name, Next: bd.Next})
		}
		jny.Flow = append(jny.Flow, node)
	}
	for _, vd := range doc.ProcessVariables {
		value, err := coerceValue(vd.Name, vd.Type, vd.Value)
		if err != nil {
			return nil, engineErrWrap(CodeDefinitionInvalid, "bad process variable", err)
		}
		jny.Variables = append(jny.Variables, Variable{Name: vd.Name, Type: vd.Type, Value: value})
	}
	for _, td := range doc.Tickets {
		jny.Tickets = append(jny.Tickets, Ticket{Name: td.Name, Step: td.Step})
	}
	if err := jny.Validate(pathSeparator); err != nil {
		return nil, err
	}
	return jny, nil
}

// coerceValue normalizes a wire value (which may arrive as a native
// scalar or as its string rendering) to the in-memory representation for
// the declared type.
func coerceValue(name string, typ VarType, value any) (any, error) {
	switch typ {
	case VarString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("variable %s: expected string, got %T", name, value)
		}
		return s, nil
	case VarLong:
		return coerceInt64(name, value)
	case VarInteger:
		n, err := coerceInt64(name, value)
		if err != nil {
			return nil, err
		}
		return int(n), nil
	case VarBoolean:
		switch b := value.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("variable %s: bad boolean %q", name, b)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("variable %s: expected boolean, got %T", name, value)
		}
	default:
		return nil, fmt.Errorf("variable %s has unknown type %q", name, typ)
	}
}

func coerceInt64(name string, value any) (int64, error) {
	switch n := value.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("variable %s: bad number %q", name, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("variable %s: expected number, got %T", name, value)
	}
}

// journeyToDoc renders a validated journey back to its wire form, used
// when persisting the definition alongside a case. Variable values are
// stringified so the persisted document round-trips independently of
// JSON number typing.
func journeyToDoc(jny *Journey) journeyFile {
	doc := journeyDoc{Name: jny.Name}
	for _, n := range jny.Flow {
		nd := nodeDef{
			Type:      n.Type,
			Name:      n.Name,
			Component: n.Component,
			UserData:  n.UserData,
			Next:      n.Next,
		}
		for _, b := range n.Branches {
			nd.Branches = append(nd.Branches, branchDef{Name: b.Name, Next: b.Next})
		}
		doc.Flow = append(doc.Flow, nd)
	}
	for _, v := range jny.Variables {
		doc.ProcessVariables = append(doc.ProcessVariables, variableDef{
			Name:  v.Name,
			Type:  v.Type,
			Value: fmt.Sprint(v.Value),
		})
	}
	for _, t := range jny.Tickets {
		doc.Tickets = append(doc.Tickets, ticketDef{Name: t.Name, Step: t.Step})
	}
	return journeyFile{Journey: doc}
}

// decodeJourneyDoc parses a persisted journey document. Validation is
// the caller's business (the engine re-validates with its own
// separator).
func decodeJourneyDoc(raw []byte) (*Journey, error) {
	var file journeyFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	jny := &Journey{Name: file.Journey.Name}
	for _, nd := range file.Journey.Flow {
		node := Node{
			Type:      nd.Type,
			Name:      nd.Name,
			Component: nd.Component,
			UserData:  nd.UserData,
			Next:      nd.Next,
		}
		for _, bd := range nd.Branches {
			node.Branches = append(node.Branches, Branch{Name: bd.Name, Next: bd.Next})
		}
		jny.Flow = append(jny.Flow, node)
	}
	for _, vd := range file.Journey.ProcessVariables {
		value, err := coerceValue(vd.Name, vd.Type, vd.Value)
		if err != nil {
			return nil, err
		}
		jny.Variables = append(jny.Variables, Variable{Name: vd.Name, Type: vd.Type, Value: value})
	}
	for _, td := range file.Journey.Tickets {
		jny.Tickets = append(jny.Tickets, Ticket{Name: td.Name, Step: td.Step})
	}
	return jny, nil
}
