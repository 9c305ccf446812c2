// Package meshflow is a workflow orchestration engine for HTTP service
// meshes.
//
// MeshFlow compiles declarative workflow definitions into validated node
// graphs and executes them against downstream HTTP services. Tools are
// discovered from service descriptors and dispatched through a single
// generic invoker; no per-tool code is generated.
//
// # Quick Start
//
// Install the engine:
//
//	go install github.com/meshflow/meshflow/cmd/meshflow@latest
//
// Describe the downstream services in a config file:
//
//	services:
//	  - service_name: documents
//	    base_url: http://localhost:8081
//	    endpoints:
//	      - tool_name: fetch
//	        path: /documents/fetch
//	        method: POST
//	        parameters:
//	          - name: document_id
//	            type: string
//	            required: true
//	            in: body
//
// Start the server:
//
//	meshflow serve --config meshflow.yaml
//
// Then submit an execution:
//
//	curl -X POST localhost:5099/workflows/from-template \
//	  -d '{"template":"document_analysis","parameters":{"document_id":"doc_1"}}'
//
// The packages under pkg/ can also be embedded directly: pkg/workflow
// compiles definitions, pkg/executor runs them, and pkg/execution tracks
// live executions.
package meshflow
