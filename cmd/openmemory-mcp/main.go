// openmemory-mcp exposes openmemory as an MCP stdio server.
//
// Configuration comes from OPENMEMORY_* environment variables (see
// openmemory.LoadConfig) or an optional config file named by
// OPENMEMORY_CONFIG.
//
// Usage:
//
//	go install github.com/goblincore/openmemory/cmd/openmemory-mcp
//	openmemory-mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	openmemory "github.com/goblincore/openmemory"
)

func main() {
	cfg, err := openmemory.LoadConfig(os.Getenv("OPENMEMORY_CONFIG"))
	if err != nil {
		log.Fatalf("openmemory-mcp: config: %v", err)
	}

	// Stdout carries the MCP stream; logs must go to stderr only.
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("openmemory-mcp: logger: %v", err)
	}
	defer logger.Sync()

	engine, err := openmemory.NewEngine(cfg, logger)
	if err != nil {
		log.Fatalf("openmemory-mcp: init: %v", err)
	}
	engine.Start()
	defer engine.Close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "openmemory-mcp",
		Version: "1.0.0",
	}, nil)

	// --- Tool: openmemory_store ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "openmemory_store",
		Description: "Store a memory. Content is auto-classified into cognitive sectors (episodic, semantic, procedural, emotional, reflective) and embedded per sector. Returns the memory ID.",
	}, storeHandler(engine))

	// --- Tool: openmemory_query ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "openmemory_query",
		Description: "Retrieve memories by hybrid scoring: vector similarity, keyword overlap, BM25, decayed salience, and recency. Supports namespace, sector, tag, and salience filters.",
	}, queryHandler(engine))

	// --- Tool: openmemory_reinforce ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "openmemory_reinforce",
		Description: "Boost a memory's salience and reset its decay clock. Use when a memory proved useful.",
	}, reinforceHandler(engine))

	// --- Tool: openmemory_get ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "openmemory_get",
		Description: "Fetch one memory by ID.",
	}, getHandler(engine))

	// --- Tool: openmemory_list ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "openmemory_list",
		Description: "Browse recent memories in a namespace, optionally filtered by primary sector.",
	}, listHandler(engine))

	// --- Tool: list_namespaces ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_namespaces",
		Description: "List all known namespaces.",
	}, listNamespacesHandler(engine))

	// --- Tool: add_temporal_fact ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_temporal_fact",
		Description: "Record a (subject, predicate, object) fact valid from now. Automatically closes any previous open fact for the same subject and predicate.",
	}, addFactHandler(engine))

	// --- Tool: query_temporal_facts ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_temporal_facts",
		Description: "Look up the facts valid at a point in time (default: now).",
	}, queryFactsHandler(engine))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("openmemory-mcp: %v", err)
	}
}

// --- Input types ---

type storeInput struct {
	Content    string   `json:"content"               jsonschema:"The memory content to store"`
	Namespaces []string `json:"namespaces,omitempty"  jsonschema:"Namespaces to store into (default: global)"`
	Tags       []string `json:"tags,omitempty"        jsonschema:"Optional tags. A tag naming a sector biases classification toward it"`
}

type queryInput struct {
	Query       string   `json:"query"                  jsonschema:"Search text"`
	K           int      `json:"k,omitempty"            jsonschema:"Max results, 1-32 (default 8)"`
	Namespaces  []string `json:"namespaces,omitempty"   jsonschema:"Namespaces to search (default: global)"`
	Sectors     []string `json:"sectors,omitempty"      jsonschema:"Restrict to sectors: episodic, semantic, procedural, emotional, reflective"`
	MinSalience float64  `json:"min_salience,omitempty" jsonschema:"Drop results whose decayed salience is below this"`
	Tags        []string `json:"tags,omitempty"         jsonschema:"Require all of these tags"`
}

type reinforceInput struct {
	ID    string  `json:"id"              jsonschema:"Memory ID to reinforce"`
	Boost float64 `json:"boost,omitempty" jsonschema:"Salience boost 0.0-1.0 (default: configured boost)"`
}

type getInput struct {
	ID string `json:"id" jsonschema:"Memory ID"`
}

type listInput struct {
	Namespace string `json:"namespace,omitempty" jsonschema:"Namespace to browse (default: global)"`
	Sector    string `json:"sector,omitempty"    jsonschema:"Filter by primary sector"`
	Limit     int    `json:"limit,omitempty"     jsonschema:"Max results (default 20)"`
}

type listNamespacesInput struct{}

type addFactInput struct {
	Subject    string  `json:"subject"              jsonschema:"Fact subject, e.g. a person or system"`
	Predicate  string  `json:"predicate"            jsonschema:"Relation, e.g. works_at"`
	Object     string  `json:"object"               jsonschema:"Fact object/value"`
	Namespace  string  `json:"namespace,omitempty"  jsonschema:"Namespace (default: global)"`
	Confidence float64 `json:"confidence,omitempty" jsonschema:"Confidence 0.0-1.0"`
}

type queryFactsInput struct {
	Subject   string `json:"subject,omitempty"   jsonschema:"Filter by subject"`
	Predicate string `json:"predicate,omitempty" jsonschema:"Filter by predicate"`
	At        int64  `json:"at,omitempty"        jsonschema:"Unix seconds; 0 means now"`
	Namespace string `json:"namespace,omitempty" jsonschema:"Namespace (default: global)"`
}

// --- Handlers ---

func storeHandler(engine *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, storeInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input storeInput) (*mcp.CallToolResult, any, error) {
		result, err := engine.Store(ctx, openmemory.StoreRequest{
			Content:    input.Content,
			Namespaces: input.Namespaces,
			Tags:       input.Tags,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(result)), nil, nil
	}
}

func queryHandler(engine *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, queryInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input queryInput) (*mcp.CallToolResult, any, error) {
		q := openmemory.QueryRequest{
			Text:        input.Query,
			K:           input.K,
			Namespaces:  input.Namespaces,
			MinSalience: input.MinSalience,
			Tags:        input.Tags,
		}
		for _, s := range input.Sectors {
			q.Sectors = append(q.Sectors, openmemory.Sector(s))
		}
		result, err := engine.Query(ctx, q)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(result)), nil, nil
	}
}

func reinforceHandler(engine *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, reinforceInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input reinforceInput) (*mcp.CallToolResult, any, error) {
		salience, err := engine.Reinforce(ctx, input.ID, input.Boost)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"id":       input.ID,
			"salience": salience,
		})), nil, nil
	}
}

func getHandler(engine *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, getInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getInput) (*mcp.CallToolResult, any, error) {
		m, err := engine.Get(ctx, input.ID, nil)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(m)), nil, nil
	}
}

func listHandler(engine *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, listInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input listInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		memories, err := engine.List(ctx, input.Namespace, openmemory.Sector(input.Sector), limit, 0)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(memories)), nil, nil
	}
}

func listNamespacesHandler(engine *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, listNamespacesInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input listNamespacesInput) (*mcp.CallToolResult, any, error) {
		groups, err := engine.ListNamespaces(ctx)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(groups)), nil, nil
	}
}

func addFactHandler(engine *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, addFactInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input addFactInput) (*mcp.CallToolResult, any, error) {
		id, err := engine.AddFact(ctx, &openmemory.TemporalFact{
			Subject:    input.Subject,
			Predicate:  input.Predicate,
			Object:     input.Object,
			Namespace:  input.Namespace,
			Confidence: input.Confidence,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]string{"id": id})), nil, nil
	}
}

func queryFactsHandler(engine *openmemory.Engine) func(context.Context, *mcp.CallToolRequest, queryFactsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input queryFactsInput) (*mcp.CallToolResult, any, error) {
		facts, err := engine.FactsAt(ctx, openmemory.FactFilter{
			Subject:   input.Subject,
			Predicate: input.Predicate,
			At:        input.At,
			Namespace: input.Namespace,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(facts)), nil, nil
	}
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}
