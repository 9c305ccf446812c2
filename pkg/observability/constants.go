package observability

const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"
	AttrWorkflowName   = "workflow.name"
	AttrExecutionID    = "execution.id"
	AttrNodeName       = "node.name"
	AttrNodeKind       = "node.kind"
	AttrToolService    = "tool.service"
	AttrToolName       = "tool.name"
	AttrErrorKind      = "error.kind"
	AttrStatusCode     = "http.status_code"

	SpanExecution      = "workflow.execution"
	SpanNodeDispatch   = "workflow.node_dispatch"
	SpanToolInvocation = "workflow.tool_invocation"

	DefaultServiceName = "meshflow"
)
