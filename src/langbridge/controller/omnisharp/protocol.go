package omnisharp

// Backend command endpoints. Line and Column values on this wire are
// 1-based, unlike LSP positions.
const (
	commandUpdateBuffer   = "/updatebuffer"
	commandAutoComplete   = "/autocomplete"
	commandTypeLookup     = "/typelookup"
	commandGotoDefinition = "/gotodefinition"
	commandMetadata       = "/metadata"
	commandCodeCheck      = "/codecheck"
	commandGetCodeActions = "/v2/getcodeactions"
)

// Asynchronous event names emitted out-of-band on the backend's stdout.
const (
	eventLog = "log"
)

type updateBufferRequest struct {
	FileName string `json:"FileName"`
	Buffer   string `json:"Buffer"`
}

type autoCompleteRequest struct {
	FileName       string `json:"FileName"`
	Line           int    `json:"Line"`
	Column         int    `json:"Column"`
	WordToComplete string `json:"WordToComplete"`
	WantKind       bool   `json:"WantKind"`
	WantSnippet    bool   `json:"WantSnippet"`
	WantReturnType bool   `json:"WantReturnType"`

	WantDocumentationForEveryCompletionResult bool `json:"WantDocumentationForEveryCompletionResult"`
}

type autoCompleteItem struct {
	CompletionText string `json:"CompletionText"`
	DisplayText    string `json:"DisplayText"`
	Description    string `json:"Description"`
	ReturnType     string `json:"ReturnType"`
	Kind           string `json:"Kind"`
	Preselect      bool   `json:"Preselect"`
}

type typeLookupRequest struct {
	FileName             string `json:"FileName"`
	Line                 int    `json:"Line"`
	Column               int    `json:"Column"`
	IncludeDocumentation bool   `json:"IncludeDocumentation"`
}

type typeLookupResponse struct {
	Type          string `json:"Type"`
	Documentation string `json:"Documentation"`
}

type gotoDefinitionRequest struct {
	FileName     string `json:"FileName"`
	Line         int    `json:"Line"`
	Column       int    `json:"Column"`
	WantMetadata bool   `json:"WantMetadata"`
}

// metadataSource identifies decompiled source with no file on disk. It
// carries enough to re-request the decompiled text lazily.
type metadataSource struct {
	AssemblyName  string `json:"AssemblyName"`
	ProjectName   string `json:"ProjectName"`
	VersionNumber string `json:"VersionNumber"`
	TypeName      string `json:"TypeName"`
	Language      string `json:"Language"`
}

type gotoDefinitionResponse struct {
	FileName       string          `json:"FileName"`
	Line           int             `json:"Line"`
	Column         int             `json:"Column"`
	MetadataSource *metadataSource `json:"MetadataSource"`
}

type metadataRequest struct {
	metadataSource
	Timeout int `json:"Timeout"`
}

type metadataResponse struct {
	SourceName string `json:"SourceName"`
	Source     string `json:"Source"`
}

type codeCheckRequest struct {
	FileName string `json:"FileName"`
}

type quickFix struct {
	FileName  string `json:"FileName"`
	Line      int    `json:"Line"`
	Column    int    `json:"Column"`
	EndLine   int    `json:"EndLine"`
	EndColumn int    `json:"EndColumn"`
	Text      string `json:"Text"`
	LogLevel  string `json:"LogLevel"`
}

type codeCheckResponse struct {
	QuickFixes []quickFix `json:"QuickFixes"`
}

type codeActionsRequest struct {
	FileName string `json:"FileName"`
	Line     int    `json:"Line"`
	Column   int    `json:"Column"`
}

type codeActionItem struct {
	Identifier string `json:"Identifier"`
	Name       string `json:"Name"`
}

type codeActionsResponse struct {
	CodeActions []codeActionItem `json:"CodeActions"`
}

type logEventBody struct {
	LogLevel string `json:"LogLevel"`
	Name     string `json:"Name"`
	Message  string `json:"Message"`
}
