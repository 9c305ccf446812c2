package templates

import (
	"github.com/meshflow/meshflow/pkg/workflow"
)

// RegisterBuiltins installs the stock template library. Every template
// compiles against the given condition registry, so registration fails fast
// on a broken definition.
func RegisterBuiltins(lib *Library, conds *workflow.ConditionRegistry) error {
	for _, def := range []*workflow.Definition{
		DocumentAnalysis(),
		PRConfidenceAnalysis(),
		EndToEndTest(),
	} {
		if err := lib.Register(def, conds); err != nil {
			return err
		}
	}
	return nil
}

// chain links the given nodes linearly, the last one to the terminal
// sentinel.
func chain(nodes ...string) []workflow.Edge {
	edges := make([]workflow.Edge, 0, len(nodes))
	for i := 0; i < len(nodes)-1; i++ {
		edges = append(edges, workflow.Edge{From: nodes[i], To: nodes[i+1]})
	}
	edges = append(edges, workflow.Edge{From: nodes[len(nodes)-1], To: workflow.Terminal})
	return edges
}

// DocumentAnalysis fetches a document, analyzes it, stores the analysis,
// and notifies stakeholders.
func DocumentAnalysis() *workflow.Definition {
	return &workflow.Definition{
		Name:        "document_analysis",
		Version:     "1.0.0",
		Description: "Fetch a document, analyze it, store the results, and notify stakeholders.",
		EntryPoint:  "fetch_document",
		Parameters: map[string]workflow.ParamSpec{
			"document_id":   {Type: "string", Required: true},
			"analysis_type": {Type: "string", Default: "general"},
		},
		Nodes: map[string]workflow.NodeSpec{
			"fetch_document": {
				Kind:    workflow.NodeToolCall,
				Service: "documents",
				Tool:    "fetch",
				InputMapping: map[string]string{
					"document_id": "input.document_id",
				},
				OutputMapping: map[string]string{
					"content": "document.content",
					"title":   "document.title",
				},
			},
			"analyze_document": {
				Kind:    workflow.NodeToolCall,
				Service: "documents",
				Tool:    "analyze",
				InputMapping: map[string]string{
					"document_id":   "input.document_id",
					"analysis_type": "input.analysis_type",
				},
				OutputMapping: map[string]string{
					"summary":              "summary",
					"key_concepts":         "key_concepts",
					"consistency_analysis": "consistency_analysis",
				},
			},
			"store_results": {
				Kind:    workflow.NodeToolCall,
				Service: "documents",
				Tool:    "store",
				InputMapping: map[string]string{
					"document_id": "input.document_id",
					"summary":     "summary",
				},
				OutputMapping: map[string]string{
					"analysis_id": "stored_analysis_id",
				},
			},
			"notify_stakeholders": {
				Kind:    workflow.NodeToolCall,
				Service: "documents",
				Tool:    "notify",
				InputMapping: map[string]string{
					"document_id": "input.document_id",
					"analysis_id": "stored_analysis_id",
				},
				OutputMapping: map[string]string{
					"delivered": "notification.delivered",
				},
			},
		},
		Edges: chain("fetch_document", "analyze_document", "store_results", "notify_stakeholders"),
	}
}

// PRConfidenceAnalysis scores a pull request against its requirements and
// documentation trail.
func PRConfidenceAnalysis() *workflow.Definition {
	return &workflow.Definition{
		Name:        "pr_confidence_analysis",
		Version:     "1.0.0",
		Description: "Score a pull request's confidence against Jira requirements and Confluence documentation.",
		EntryPoint:  "extract_pr_context",
		Parameters: map[string]workflow.ParamSpec{
			"pr_url":           {Type: "string", Required: true},
			"jira_ticket":      {Type: "string", Required: true},
			"confluence_space": {Type: "string", Default: "ENG"},
		},
		Nodes: map[string]workflow.NodeSpec{
			"extract_pr_context": {
				Kind:    workflow.NodeToolCall,
				Service: "code",
				Tool:    "extract_pr_context",
				InputMapping: map[string]string{
					"pr_url": "input.pr_url",
				},
				OutputMapping: map[string]string{
					"title":         "pr.title",
					"changed_files": "pr.changed_files",
					"description":   "pr.description",
				},
			},
			"fetch_jira": {
				Kind:    workflow.NodeToolCall,
				Service: "jira",
				Tool:    "fetch_issue",
				InputMapping: map[string]string{
					"ticket": "input.jira_ticket",
				},
				OutputMapping: map[string]string{
					"requirements": "jira.requirements",
					"status":       "jira.status",
				},
			},
			"fetch_confluence": {
				Kind:    workflow.NodeToolCall,
				Service: "confluence",
				Tool:    "fetch_pages",
				InputMapping: map[string]string{
					"space":  "input.confluence_space",
					"ticket": "input.jira_ticket",
				},
				OutputMapping: map[string]string{
					"pages": "docs.pages",
				},
			},
			"align_requirements": {
				Kind:    workflow.NodeToolCall,
				Service: "analysis",
				Tool:    "align_requirements",
				InputMapping: map[string]string{
					"pr_description": "pr.description",
					"requirements":   "jira.requirements",
				},
				OutputMapping: map[string]string{
					"alignment": "alignment",
				},
			},
			"check_docs": {
				Kind:    workflow.NodeToolCall,
				Service: "analysis",
				Tool:    "check_documentation",
				InputMapping: map[string]string{
					"changed_files": "pr.changed_files",
					"pages":         "docs.pages",
				},
				OutputMapping: map[string]string{
					"coverage": "doc_coverage",
				},
			},
			"score": {
				Kind:    workflow.NodeToolCall,
				Service: "analysis",
				Tool:    "score_confidence",
				InputMapping: map[string]string{
					"alignment":    "alignment",
					"doc_coverage": "doc_coverage",
				},
				OutputMapping: map[string]string{
					"confidence": "confidence_score",
				},
			},
			"identify_gaps": {
				Kind:    workflow.NodeToolCall,
				Service: "analysis",
				Tool:    "identify_gaps",
				InputMapping: map[string]string{
					"alignment":    "alignment",
					"doc_coverage": "doc_coverage",
				},
				OutputMapping: map[string]string{
					"gaps": "gaps",
				},
			},
			"recommend": {
				Kind:    workflow.NodeToolCall,
				Service: "analysis",
				Tool:    "recommend",
				InputMapping: map[string]string{
					"gaps":       "gaps",
					"confidence": "confidence_score",
				},
				OutputMapping: map[string]string{
					"recommendations": "recommendations",
				},
			},
			"report": {
				Kind:    workflow.NodeToolCall,
				Service: "analysis",
				Tool:    "build_report",
				InputMapping: map[string]string{
					"pr_url":          "input.pr_url",
					"confidence":      "confidence_score",
					"gaps":            "gaps",
					"recommendations": "recommendations",
				},
				OutputMapping: map[string]string{
					"report_url": "report_url",
				},
			},
			"notify": {
				Kind:    workflow.NodeToolCall,
				Service: "notifications",
				Tool:    "send",
				InputMapping: map[string]string{
					"pr_url":     "input.pr_url",
					"report_url": "report_url",
				},
				OutputMapping: map[string]string{
					"delivered": "notification.delivered",
				},
			},
		},
		Edges: chain(
			"extract_pr_context", "fetch_jira", "fetch_confluence",
			"align_requirements", "check_docs", "score", "identify_gaps",
			"recommend", "report", "notify",
		),
	}
}

// EndToEndTest exercises the whole downstream ecosystem with mock data.
func EndToEndTest() *workflow.Definition {
	return &workflow.Definition{
		Name:        "end_to_end_test",
		Version:     "1.0.0",
		Description: "Generate mock documents, push them through the analysis pipeline, and clean up.",
		EntryPoint:  "generate_mock_data",
		Parameters: map[string]workflow.ParamSpec{
			"document_count": {Type: "number", Default: float64(3)},
			"cleanup":        {Type: "boolean", Default: true},
		},
		Nodes: map[string]workflow.NodeSpec{
			"generate_mock_data": {
				Kind:    workflow.NodeToolCall,
				Service: "testbed",
				Tool:    "generate_mock_data",
				InputMapping: map[string]string{
					"count": "input.document_count",
				},
				OutputMapping: map[string]string{
					"documents": "mock.documents",
				},
			},
			"store_documents": {
				Kind:    workflow.NodeToolCall,
				Service: "testbed",
				Tool:    "store_documents",
				InputMapping: map[string]string{
					"documents": "mock.documents",
				},
				OutputMapping: map[string]string{
					"document_ids": "mock.document_ids",
				},
			},
			"prepare_analysis": {
				Kind:    workflow.NodeToolCall,
				Service: "testbed",
				Tool:    "prepare_analysis",
				InputMapping: map[string]string{
					"document_ids": "mock.document_ids",
				},
				OutputMapping: map[string]string{
					"batch_id": "batch_id",
				},
			},
			"analyze": {
				Kind:    workflow.NodeToolCall,
				Service: "testbed",
				Tool:    "analyze",
				InputMapping: map[string]string{
					"batch_id": "batch_id",
				},
				OutputMapping: map[string]string{
					"results": "analysis.results",
				},
			},
			"store_results": {
				Kind:    workflow.NodeToolCall,
				Service: "testbed",
				Tool:    "store_results",
				InputMapping: map[string]string{
					"batch_id": "batch_id",
					"results":  "analysis.results",
				},
				OutputMapping: map[string]string{
					"analysis_id": "stored_analysis_id",
				},
			},
			"summarize": {
				Kind:    workflow.NodeToolCall,
				Service: "testbed",
				Tool:    "summarize",
				InputMapping: map[string]string{
					"analysis_id": "stored_analysis_id",
				},
				OutputMapping: map[string]string{
					"summary": "summary",
				},
			},
			"unify": {
				Kind:    workflow.NodeToolCall,
				Service: "testbed",
				Tool:    "unify",
				InputMapping: map[string]string{
					"summary": "summary",
					"results": "analysis.results",
				},
				OutputMapping: map[string]string{
					"unified": "unified_result",
				},
			},
			"final_report": {
				Kind:    workflow.NodeToolCall,
				Service: "testbed",
				Tool:    "final_report",
				InputMapping: map[string]string{
					"unified": "unified_result",
				},
				OutputMapping: map[string]string{
					"report_url": "report_url",
				},
			},
			"cleanup": {
				Kind:    workflow.NodeToolCall,
				Service: "testbed",
				Tool:    "cleanup",
				InputMapping: map[string]string{
					"batch_id": "batch_id",
					"enabled":  "input.cleanup",
				},
				OutputMapping: map[string]string{
					"removed": "cleanup.removed",
				},
			},
		},
		Edges: chain(
			"generate_mock_data", "store_documents", "prepare_analysis",
			"analyze", "store_results", "summarize", "unify",
			"final_report", "cleanup",
		),
	}
}
