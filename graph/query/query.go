// Package query implements a subset of VQL (spec C13): MATCH ... [WHERE
// ...] RETURN ..., planned against the property indices owned by an
// index.Manager (the TypeIndex strategy is a type-filtered scan of the
// store; there is no node-type index) and executed over a graph.Store.
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/graph"
	"github.com/vexfs/vexfs/graph/index"
)

// StartStrategy is the planner's choice of where to begin iteration
// (spec §4.6 "Choice rule").
type StartStrategy int

const (
	FullScan StartStrategy = iota
	TypeIndex
	PropertyIndex
)

func (s StartStrategy) String() string {
	switch s {
	case TypeIndex:
		return "TypeIndex"
	case PropertyIndex:
		return "PropertyIndex"
	default:
		return "FullScan"
	}
}

// CompareOp is the operator in a WHERE clause.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

// WhereClause is `v.prop OP literal`.
type WhereClause struct {
	Var     string
	Prop    string
	Op      CompareOp
	Literal any
}

// MatchClause is `(v[:Type])` or the edge-hop form `-[e[:EdgeType]]->(w[:Type])`.
type MatchClause struct {
	StartVar   string
	StartType  string // "" = untyped
	HasHop     bool
	EdgeVar    string
	EdgeType   string
	TargetVar  string
	TargetType string
}

// Query is a parsed statement: MATCH <clause> [WHERE <where>] RETURN <vars>.
type Query struct {
	Match  MatchClause
	Where  *WhereClause
	Return []string
	Limit  int // 0 = unbounded
}

// Plan is the planner's output (spec §4.6): `{start_strategy, filters,
// projection, limit}`.
type Plan struct {
	Strategy  StartStrategy
	NodeType  string
	PropKey   string
	PropValue any
	Query     Query
}

// Tuple is one row of a uniform structured result (spec §4.6 "serialized
// as a uniform structured tuple list").
type Tuple map[string]any

// Parse parses a VQL subset statement into a Query.
//
// Grammar: MATCH (v[:Type]) [-[e[:EdgeType]]->(w[:Type])] [WHERE v.prop OP literal] RETURN a, b [LIMIT n]
func Parse(stmt string) (Query, error) {
	var q Query
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)

	matchIdx := strings.Index(upper, "MATCH")
	whereIdx := strings.Index(upper, "WHERE")
	returnIdx := strings.Index(upper, "RETURN")
	limitIdx := strings.Index(upper, "LIMIT")

	if matchIdx < 0 || returnIdx < 0 {
		return q, cmn.NewErr(cmn.ErrInvalidParam, "query must contain MATCH and RETURN: %q", stmt)
	}

	matchEnd := len(s)
	if whereIdx > matchIdx {
		matchEnd = whereIdx
	} else if returnIdx > matchIdx {
		matchEnd = returnIdx
	}
	matchBody := strings.TrimSpace(s[matchIdx+len("MATCH") : matchEnd])
	match, err := parseMatch(matchBody)
	if err != nil {
		return q, err
	}
	q.Match = match

	if whereIdx >= 0 {
		whereEnd := returnIdx
		if whereEnd < whereIdx {
			whereEnd = len(s)
		}
		whereBody := strings.TrimSpace(s[whereIdx+len("WHERE") : whereEnd])
		w, err := parseWhere(whereBody)
		if err != nil {
			return q, err
		}
		q.Where = &w
	}

	returnEnd := len(s)
	if limitIdx > returnIdx {
		returnEnd = limitIdx
	}
	returnBody := strings.TrimSpace(s[returnIdx+len("RETURN") : returnEnd])
	for _, v := range strings.Split(returnBody, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			q.Return = append(q.Return, v)
		}
	}
	if len(q.Return) == 0 {
		return q, cmn.NewErr(cmn.ErrInvalidParam, "RETURN clause names no variables: %q", stmt)
	}

	if limitIdx >= 0 {
		limitBody := strings.TrimSpace(s[limitIdx+len("LIMIT"):])
		n, err := strconv.Atoi(limitBody)
		if err != nil {
			return q, cmn.NewErr(cmn.ErrInvalidParam, "invalid LIMIT %q", limitBody)
		}
		q.Limit = n
	}
	return q, nil
}

func parseMatch(body string) (MatchClause, error) {
	var m MatchClause
	// (v[:Type]) [-[e[:EdgeType]]->(w[:Type])]
	parenDepth := 0
	var parts []string
	var cur strings.Builder
	for _, r := range body {
		cur.WriteRune(r)
		if r == '(' {
			parenDepth++
		} else if r == ')' {
			parenDepth--
			if parenDepth == 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		}
	}
	if len(parts) == 0 {
		return m, cmn.NewErr(cmn.ErrInvalidParam, "MATCH clause has no node pattern: %q", body)
	}

	startVar, startType, err := parseNodePattern(parts[0])
	if err != nil {
		return m, err
	}
	m.StartVar, m.StartType = startVar, startType

	if len(parts) >= 2 {
		// everything between the two parens is the hop spec: -[e[:Type]]->
		// (it is carried at the front of parts[1], ahead of the target's "(")
		open := strings.Index(parts[1], "(")
		if open < 0 {
			return m, cmn.NewErr(cmn.ErrInvalidParam, "malformed edge hop in MATCH clause: %q", body)
		}
		hop := parts[1][:open]
		edgeVar, edgeType, err := parseEdgePattern(hop)
		if err != nil {
			return m, err
		}
		targetVar, targetType, err := parseNodePattern(parts[1][open:])
		if err != nil {
			return m, err
		}
		m.HasHop = true
		m.EdgeVar, m.EdgeType = edgeVar, edgeType
		m.TargetVar, m.TargetType = targetVar, targetType
	}
	return m, nil
}

func parseNodePattern(p string) (varName, typ string, err error) {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "(")
	p = strings.TrimSuffix(p, ")")
	if colon := strings.Index(p, ":"); colon >= 0 {
		return strings.TrimSpace(p[:colon]), strings.TrimSpace(p[colon+1:]), nil
	}
	if p == "" {
		return "", "", cmn.NewErr(cmn.ErrInvalidParam, "empty node pattern")
	}
	return p, "", nil
}

func parseEdgePattern(hop string) (varName, typ string, err error) {
	lb := strings.Index(hop, "[")
	rb := strings.LastIndex(hop, "]")
	if lb < 0 || rb < 0 || rb < lb {
		return "", "", nil // hop with no edge binding, e.g. "-->"
	}
	inner := hop[lb+1 : rb]
	if colon := strings.Index(inner, ":"); colon >= 0 {
		return strings.TrimSpace(inner[:colon]), strings.TrimSpace(inner[colon+1:]), nil
	}
	return strings.TrimSpace(inner), "", nil
}

func parseWhere(body string) (WhereClause, error) {
	var w WhereClause
	var opStr string
	var opVal CompareOp
	for _, cand := range []struct {
		tok string
		op  CompareOp
	}{
		{"<=", OpLte}, {">=", OpGte}, {"!=", OpNeq}, {"=", OpEq}, {"<", OpLt}, {">", OpGt},
	} {
		if idx := strings.Index(body, cand.tok); idx >= 0 {
			opStr = cand.tok
			opVal = cand.op
			break
		}
	}
	if opStr == "" {
		return w, cmn.NewErr(cmn.ErrInvalidParam, "WHERE clause has no recognized operator: %q", body)
	}
	idx := strings.Index(body, opStr)
	lhs := strings.TrimSpace(body[:idx])
	rhs := strings.TrimSpace(body[idx+len(opStr):])

	dot := strings.Index(lhs, ".")
	if dot < 0 {
		return w, cmn.NewErr(cmn.ErrInvalidParam, "WHERE clause LHS must be var.prop: %q", lhs)
	}
	w.Var = strings.TrimSpace(lhs[:dot])
	w.Prop = strings.TrimSpace(lhs[dot+1:])
	w.Op = opVal
	w.Literal = parseLiteral(rhs)
	return w, nil
}

func parseLiteral(s string) any {
	if len(s) >= 2 && ((s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"')) {
		return s[1 : len(s)-1]
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// PlanQuery applies the choice rule from spec §4.6:
//  1. exact-match property filter with a ByProperty index -> PropertyIndex
//  2. node-type filter present -> TypeIndex
//  3. otherwise -> FullScan
func PlanQuery(q Query, idx *index.Manager) Plan {
	p := Plan{Strategy: FullScan, NodeType: q.Match.StartType, Query: q}

	if q.Where != nil && q.Where.Var == q.Match.StartVar && q.Where.Op == OpEq {
		h := index.Handle{Kind: index.ByProperty, Key: q.Where.Prop}
		if _, err := idx.Statistics(h); err == nil {
			p.Strategy = PropertyIndex
			p.PropKey = q.Where.Prop
			p.PropValue = q.Where.Literal
			return p
		}
	}
	if q.Match.StartType != "" {
		if _, err := idx.Statistics(index.Handle{Kind: index.ByNodeID}); err == nil {
			p.Strategy = TypeIndex
			return p
		}
		p.Strategy = TypeIndex
		return p
	}
	return p
}

// Executor runs a Plan against a graph store and index manager.
type Executor struct {
	store *graph.Store
	idx   *index.Manager
}

func NewExecutor(store *graph.Store, idx *index.Manager) *Executor {
	return &Executor{store: store, idx: idx}
}

// Run executes a VQL statement end to end: parse, plan, execute.
func (ex *Executor) Run(stmt string) ([]Tuple, Plan, error) {
	q, err := Parse(stmt)
	if err != nil {
		return nil, Plan{}, err
	}
	plan := PlanQuery(q, ex.idx)
	tuples, err := ex.Execute(plan)
	return tuples, plan, err
}

// Execute iterates the plan's start set, applies filters lazily, and stops
// at limit (spec §4.6 "Execution").
func (ex *Executor) Execute(p Plan) ([]Tuple, error) {
	var candidateIDs []uint64

	switch p.Strategy {
	case PropertyIndex:
		key := fmt.Sprintf("%v", p.PropValue)
		ids, err := ex.idx.Lookup(index.Handle{Kind: index.ByProperty, Key: p.PropKey}, key)
		if err != nil {
			return nil, err
		}
		candidateIDs = ids
	case TypeIndex, FullScan:
		ex.store.RangeNodes(func(n *graph.Node) bool {
			if p.NodeType == "" || n.Type == p.NodeType {
				candidateIDs = append(candidateIDs, n.ID)
			}
			return true
		})
	}

	var out []Tuple
	for _, id := range candidateIDs {
		if p.Query.Limit > 0 && len(out) >= p.Query.Limit {
			break
		}
		n, err := ex.store.LookupNode(id)
		if err != nil {
			continue
		}
		if p.NodeType != "" && n.Type != p.NodeType {
			continue
		}
		if p.Query.Where != nil && p.Query.Where.Var == p.Query.Match.StartVar {
			if !matchesWhere(n, *p.Query.Where) {
				continue
			}
		}

		var rows []Tuple
		if p.Query.Match.HasHop {
			for _, eid := range n.OutgoingEdgeIDs() {
				e, err := ex.store.LookupEdge(eid)
				if err != nil {
					continue
				}
				if p.Query.Match.EdgeType != "" && e.Type != p.Query.Match.EdgeType {
					continue
				}
				tgt, err := ex.store.LookupNode(e.TargetID)
				if err != nil {
					continue
				}
				if p.Query.Match.TargetType != "" && tgt.Type != p.Query.Match.TargetType {
					continue
				}
				rows = append(rows, project(p.Query, n, e, tgt))
			}
		} else {
			rows = append(rows, project(p.Query, n, nil, nil))
		}

		for _, row := range rows {
			if p.Query.Limit > 0 && len(out) >= p.Query.Limit {
				break
			}
			out = append(out, row)
		}
	}
	return out, nil
}

func matchesWhere(n *graph.Node, w WhereClause) bool {
	p, ok := n.Property(w.Prop)
	if !ok {
		return false
	}
	return compareValues(p.Value, w.Op, w.Literal)
}

func compareValues(a any, op CompareOp, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case OpEq:
			return af == bf
		case OpNeq:
			return af != bf
		case OpLt:
			return af < bf
		case OpLte:
			return af <= bf
		case OpGt:
			return af > bf
		case OpGte:
			return af >= bf
		}
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch op {
	case OpEq:
		return as == bs
	case OpNeq:
		return as != bs
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func project(q Query, v *graph.Node, e *graph.Edge, w *graph.Node) Tuple {
	t := make(Tuple, len(q.Return))
	for _, varName := range q.Return {
		switch {
		case varName == q.Match.StartVar:
			t[varName] = nodeView(v)
		case q.Match.HasHop && varName == q.Match.EdgeVar && e != nil:
			t[varName] = edgeView(e)
		case q.Match.HasHop && varName == q.Match.TargetVar && w != nil:
			t[varName] = nodeView(w)
		default:
			if strings.Contains(varName, ".") {
				parts := strings.SplitN(varName, ".", 2)
				if parts[0] == q.Match.StartVar {
					if p, ok := v.Property(parts[1]); ok {
						t[varName] = p.Value
					}
				} else if q.Match.HasHop && parts[0] == q.Match.TargetVar && w != nil {
					if p, ok := w.Property(parts[1]); ok {
						t[varName] = p.Value
					}
				}
			}
		}
	}
	return t
}

func nodeView(n *graph.Node) map[string]any {
	return map[string]any{"id": n.ID, "type": n.Type}
}

func edgeView(e *graph.Edge) map[string]any {
	return map[string]any{"id": e.ID, "type": e.Type, "weight": e.Weight}
}
