// Package wizard drives the remote filing wizard: it keeps the session
// tokens current, walks the eight wizard steps in order and hands the
// resulting transaction reference to the caller.
//
// Every exchange with the wizard is a "partial update" POST that must carry
// the latest view state, client window id and nonce. The server answers
// with a <partial-response> document whose <update> fragments carry the
// next token values and the re-rendered markup.
package wizard

// protocol-constant request fields
const (
	field_partial_ajax   = "javax.faces.partial.ajax"
	field_source         = "javax.faces.source"
	field_execute        = "javax.faces.partial.execute"
	field_render         = "javax.faces.partial.render"
	field_behavior_event = "javax.faces.behavior.event"
	field_partial_event  = "javax.faces.partial.event"
	field_view_state     = "javax.faces.ViewState"
	field_client_window  = "javax.faces.ClientWindow"
	field_nonce          = "primefaces.nonce"
	field_step           = "editor:wizardStep"

	// the wizard is a single form, its id doubles as the submit marker field
	form_id = "editor"

	scope_all = "@all"
)

// query parameters
const (
	param_window_id     = "jfwid"
	param_flow_id       = "jffi"
	param_flow_instance = "jftfdi"
	param_transaction   = "transactionId"
)

// component ids of the wizard form
const (
	component_next_button   = "editor:btnNext"
	component_wizard_panel  = "editor:wizardPanel"
	component_messages      = "editor:messages"
	component_mark_type     = "editor:markType"
	component_mark_panel    = "editor:markPanel"
	component_upload_button = "editor:markImageUploadButton"
	component_upload        = "editor:markImageUpload"
	component_class_tree    = "editor:tmClassTree"
	component_search_button = "editor:termSearchButton"
	component_search_input  = "editor:termSearch"
	component_search_result = "editor:termSearchResults"
	component_selected      = "editor:selectedTermsPanel"
	component_lead_class    = "editor:leadClass"

	// suffix of every selectable checkbox in the class tree and search results
	selection_control_suffix = "chkSelect"
	// suffix of the accordion state fields the final step has to echo back
	items_panel_active_suffix = ":itemsPanel_active"
)

// Endpoints are the resource paths of the wizard, relative to the base url.
type Endpoints struct {
	// Landing is fetched first to obtain the session cookies.
	Landing string
	// Start answers with a redirect whose Location carries the window id.
	Start string
	// Entry renders the first full wizard page.
	Entry string
	// Wizard receives every partial update POST.
	Wizard string
	// Upload receives the multipart mark image transfer.
	Upload string
	// FlowID identifies the trademark filing flow.
	FlowID string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Landing: "/DpmaDirektWebEditoren/index.xhtml",
		Start:   "/DpmaDirektWebEditoren/w7005-start.xhtml",
		Entry:   "/DpmaDirektWebEditoren/w7005/w7005web.xhtml",
		Wizard:  "/DpmaDirektWebEditoren/w7005/w7005web.xhtml",
		Upload:  "/DpmaDirektWebEditoren/w7005/upload.xhtml",
		FlowID:  "w7005",
	}
}
