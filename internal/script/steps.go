// Package script defines the chat application walkthrough as data: an
// ordered list of named steps over the driver's best-effort primitives.
// Keeping the sequence here, out of the run loop, lets the driver stay
// generic and the walkthrough evolve without touching engine code.
package script

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/autocrawlerHQ/chatwalk/internal/driver"
)

// Step is the unit the driver executes. Aliased so callers assembling a
// custom walk only need this package.
type Step = driver.Step

const (
	// menuSettle gives popovers and dialogs time to mount before we probe
	// or capture them.
	menuSettle = 500 * time.Millisecond

	// answerWait is the fixed allowance for a model response to stream in.
	answerWait = 10 * time.Second

	// interruptDelay is how long generation runs before we try to stop it.
	interruptDelay = 1500 * time.Millisecond
)

// Selector cascades for the target application. Order matters: the first
// candidate that resolves wins, later ones are fallbacks for older or
// re-skinned builds of the UI.
var (
	locNavUser = driver.L("user nav button",
		"button#nav-user",
		`[data-testid="nav-user"]`)

	locLoginEmail = driver.L("login email",
		`input[name="email"]`,
		"input#email",
		`input[type="email"]`)

	locLoginPassword = driver.L("login password",
		`input[name="password"]`,
		"input#password",
		`input[type="password"]`)

	locLoginSubmit = driver.L("login submit",
		`[data-testid="login-button"]`,
		`form button[type="submit"]`)

	locRegisterLink = driver.L("register link",
		`a[href="/register"]`,
		`[data-testid="register-link"]`)

	locRegisterName = driver.L("register full name",
		`input[name="name"]`,
		"input#name")

	locRegisterUsername = driver.L("register username",
		`input[name="username"]`,
		"input#username")

	locRegisterConfirm = driver.L("register confirm password",
		`input[name="confirm_password"]`,
		"input#confirm_password")

	locModelPicker = driver.L("model picker",
		`[data-testid="model-selector"]`,
		"button#model-selector",
		`button[aria-label="Select model"]`)

	locProviderGroup = driver.L("provider group",
		`[data-testid^="endpoint-"]`,
		`[role="option"][data-value="openAI"]`,
		`[role="option"]`)

	locModelOption = driver.L("model option",
		`[data-testid^="model-option"]`,
		`[role="option"]`)

	locPrompt = driver.L("prompt input",
		"textarea#prompt-textarea",
		`[data-testid="text-input"]`,
		"form textarea")

	locSend = driver.L("send button",
		`[data-testid="send-button"]`,
		`button[aria-label="Send message"]`)

	locAgentBuilder = driver.L("agent builder",
		`[data-testid="agent-builder-button"]`,
		`button[aria-label="Agent Builder"]`,
		`a[href="/agents"]`)

	locPrompts = driver.L("prompts library",
		`a[href="/d/prompts"]`,
		`[data-testid="prompts-button"]`,
		`button[aria-label="Prompts"]`)

	locAttach = driver.L("attachment menu",
		`[data-testid="attach-file"]`,
		`button[aria-label="Attach files"]`)

	locSidePanelToggle = driver.L("side panel toggle",
		`[data-testid="close-side-panel"]`,
		`button[aria-label="Toggle right panel"]`)

	locSettingsItem = driver.L("settings menu item",
		`[data-testid="nav-settings"]`,
		`[role="menuitem"][data-value="settings"]`,
		"#nav-settings")

	locTabGeneral = driver.L("general settings tab",
		`[role="tab"][data-value="general"]`,
		"button#general-tab")

	locThemeSelector = driver.L("theme selector",
		`[data-testid="theme-selector"]`,
		"select#theme",
		`[role="tab"][data-value="appearance"]`)

	locTabData = driver.L("data controls tab",
		`[role="tab"][data-value="data"]`,
		"button#data-tab")

	locTabAccount = driver.L("account settings tab",
		`[role="tab"][data-value="account"]`,
		"button#account-tab")

	locDialogClose = driver.L("dialog close",
		`[data-testid="close-button"]`,
		`button[aria-label="Close"]`)

	locNavToggle = driver.L("sidebar toggle",
		"#toggle-left-nav",
		`button[aria-label="Toggle navigation"]`,
		`[data-testid="toggle-nav"]`)

	locSearchInput = driver.L("conversation search",
		"input#search-bar",
		`[data-testid="search-bar"]`,
		`input[placeholder="Search messages"]`)

	locConvoMenu = driver.L("conversation menu",
		`[data-testid="convo-item-menu"]`,
		`button[aria-label="Conversation options"]`,
		"#conversation-menu-button")

	locModelInfo = driver.L("model info",
		`[data-testid="model-info-button"]`,
		`button[aria-label="Model information"]`)

	locShare = driver.L("share menu",
		`[data-testid="share-button"]`,
		`button[aria-label="Share"]`)

	locNewChat = driver.L("new chat",
		`[data-testid="nav-new-chat-button"]`,
		`a[href="/c/new"]`,
		`button[aria-label="New chat"]`)

	locMicrophone = driver.L("microphone",
		`[data-testid="audio-recorder"]`,
		`button[aria-label="Use microphone"]`)

	locStop = driver.L("stop generating",
		`[data-testid="stop-button"]`,
		`button[aria-label="Stop generating"]`)

	locRegenerate = driver.L("regenerate",
		`[data-testid="regenerate-button"]`,
		`button[aria-label="Regenerate"]`)

	locCopyMessage = driver.L("copy message",
		`[data-testid="copy-to-clipboard-button"]`,
		`button[aria-label="Copy message"]`)

	locRename = driver.L("rename conversation",
		`[data-testid="rename-button"]`,
		`button[aria-label="Rename"]`)

	locRenameInput = driver.L("rename input",
		`input[aria-label="Conversation title"]`,
		`[data-testid="rename-input"]`)
)

const (
	selNavUser   = "button#nav-user"
	selConvoItem = `a[href^="/c/"]`
	selMenuItem  = `[role="menuitem"]`
	selNavPane   = `nav[aria-label="Navigation"]`
	selDeleteOpt = `[data-testid="delete-menu-item"], [role="menuitem"][data-value="delete"]`

	sidebarShortcut = "Ctrl+Shift+s"

	testMessage = "Hello! Briefly introduce yourself."
	longPrompt  = "Write a detailed, step-by-step history of distributed version " +
		"control systems, covering at least twelve milestones with a full " +
		"paragraph for each one."
)

// LoginFlow is the walkthrough prefix that lands an authenticated page:
// load the application, then authenticate. Session capture runs just this.
func LoginFlow() []Step {
	return ChatWalkthrough()[:2]
}

// ChatWalkthrough returns the canonical ordered walkthrough. The slice is
// rebuilt on every call so runs cannot leak state into each other.
func ChatWalkthrough() []Step {
	return []Step{
		{Name: "Load application", Run: loadApplication},
		{Name: "Authenticate", Run: authenticate},
		{Name: "Start a new conversation", Run: startConversation},
		{Name: "Select a model", Run: selectModel},
		{Name: "Send a test message", Run: sendTestMessage},
		{Name: "Open the agent builder", Run: openAgentBuilder},
		{Name: "Browse the prompts library", Run: browsePrompts},
		{Name: "Explore the attachment menu", Run: exploreAttachments},
		{Name: "Verify the parameters panel", Run: verifyParameters},
		{Name: "Toggle the side panel", Run: toggleSidePanel},
		{Name: "Open settings", Run: openSettings},
		{Name: "Review theme settings", Run: reviewTheme},
		{Name: "Review general settings", Run: reviewGeneral},
		{Name: "Review data controls", Run: reviewDataControls},
		{Name: "Review account settings", Run: reviewAccount},
		{Name: "Close settings", Run: closeSettings},
		{Name: "Return to chat and toggle the sidebar", Run: returnAndToggleSidebar},
		{Name: "Count conversations", Run: countConversations},
		{Name: "Open the user menu", Run: openUserMenu},
		{Name: "Search conversations", Run: searchConversations},
		{Name: "Open the conversation menu", Run: openConversationMenu},
		{Name: "Inspect model info", Run: inspectModelInfo},
		{Name: "Open the share menu", Run: openShareMenu},
		{Name: "Start another chat", Run: startAnotherChat},
		{Name: "Toggle voice input", Run: toggleVoiceInput},
		{Name: "Interrupt generation", Run: interruptGeneration},
		{Name: "Regenerate the response", Run: regenerateResponse},
		{Name: "Copy a message", Run: copyMessage},
		{Name: "Rename the conversation", Run: renameConversation},
		{Name: "Locate the delete control", Run: locateDeleteControl},
		{Name: "Probe keyboard shortcuts", Run: probeKeyboardShortcuts},
		{Name: "Scroll the conversation", Run: scrollConversation},
		{Name: "Finish on the landing page", Run: finishOnLanding},
	}
}

// openAndCapture clicks a surface open, captures proof it rendered, and
// dismisses it again. Absence of the surface is a logged no-op.
func openAndCapture(ctx context.Context, r *driver.Runner, loc driver.Locator, shot string) error {
	ok, err := r.SafeClick(ctx, loc)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	r.Checkpoint(ctx, shot)
	return dismiss(ctx, r)
}

// dismiss closes whatever surface is on top: an explicit close control if
// one exists, Escape otherwise.
func dismiss(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeClick(ctx, locDialogClose)
	if err != nil {
		return err
	}
	if !ok {
		return r.Press(ctx, "Escape")
	}
	return nil
}

func loadApplication(ctx context.Context, r *driver.Runner) error {
	base := r.Config().BaseURL
	if err := r.Navigate(ctx, base); err != nil {
		return err
	}
	if err := r.Settle(ctx, driver.QuietTimeout); err != nil {
		return err
	}
	r.PageLoaded(base)
	r.Checkpoint(ctx, "application loaded")
	return nil
}

func authenticate(ctx context.Context, r *driver.Runner) error {
	cfg := r.Config()

	// Session-state restore: cookies were applied before navigation, but
	// localStorage needs the origin loaded first, then a reload so the app
	// boots with the token in place.
	if st := r.Session(); st != nil {
		if items := st.LocalStorageFor(cfg.BaseURL); len(items) > 0 {
			if err := r.Page().SeedLocalStorage(ctx, items); err != nil {
				return fmt.Errorf("seed local storage: %w", err)
			}
			if err := r.Page().Reload(ctx); err != nil {
				return fmt.Errorf("reload after session restore: %w", err)
			}
			if err := r.Settle(ctx, driver.QuietTimeout); err != nil {
				return err
			}
			log.Printf("[SCRIPT]   └── restored %d localStorage item(s)", len(items))
		}
	}

	n, err := r.Count(ctx, selNavUser)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[SCRIPT]   └── Already authenticated")
		r.DebugPause(ctx, "authenticated")
		return nil
	}

	filled, err := r.SafeFill(ctx, locLoginEmail, cfg.Email)
	if err != nil {
		return err
	}
	if !filled {
		log.Printf("[SCRIPT]   └── no login form visible, continuing unauthenticated")
		return nil
	}
	if _, err := r.SafeFill(ctx, locLoginPassword, cfg.Password); err != nil {
		return err
	}
	if err := submitForm(ctx, r); err != nil {
		return err
	}
	if err := r.Settle(ctx, driver.QuietTimeout); err != nil {
		return err
	}

	failed, err := loginFailed(ctx, r)
	if err != nil {
		return err
	}
	if failed {
		log.Printf("[SCRIPT]   └── login rejected, falling back to registration")
		if err := register(ctx, r, cfg); err != nil {
			return err
		}
	}

	r.DebugPause(ctx, "authenticated")
	return nil
}

// submitForm prefers the visible submit button and falls back to Enter.
func submitForm(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeClick(ctx, locLoginSubmit)
	if err != nil {
		return err
	}
	if !ok {
		return r.Press(ctx, "Enter")
	}
	return nil
}

func loginFailed(ctx context.Context, r *driver.Runner) (bool, error) {
	rejected, err := r.HasText(ctx, "Unable to login")
	if err != nil {
		return false, err
	}
	if rejected {
		return true, nil
	}
	n, err := r.Count(ctx, `[role="alert"]`)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// register creates the account the login expected. Best-effort like all
// other flows: a missing register form degrades to a logged no-op.
func register(ctx context.Context, r *driver.Runner, cfg driver.Config) error {
	ok, err := r.SafeClick(ctx, locRegisterLink)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("[SCRIPT]   └── no registration link, leaving auth unresolved")
		return nil
	}
	if err := r.Settle(ctx, driver.QuietTimeout); err != nil {
		return err
	}
	if _, err := r.SafeFill(ctx, locRegisterName, "Chatwalk Smoke"); err != nil {
		return err
	}
	if _, err := r.SafeFill(ctx, locRegisterUsername, "chatwalk"); err != nil {
		return err
	}
	if _, err := r.SafeFill(ctx, locLoginEmail, cfg.Email); err != nil {
		return err
	}
	if _, err := r.SafeFill(ctx, locLoginPassword, cfg.Password); err != nil {
		return err
	}
	if _, err := r.SafeFill(ctx, locRegisterConfirm, cfg.Password); err != nil {
		return err
	}
	if err := submitForm(ctx, r); err != nil {
		return err
	}
	return r.Settle(ctx, driver.QuietTimeout)
}

func startConversation(ctx context.Context, r *driver.Runner) error {
	if err := r.Navigate(ctx, r.Config().BaseURL+"/c/new"); err != nil {
		return err
	}
	return r.Settle(ctx, driver.QuietTimeout)
}

func selectModel(ctx context.Context, r *driver.Runner) error {
	opened, err := r.SafeClick(ctx, locModelPicker)
	if err != nil {
		return err
	}
	if !opened {
		// Keyboard fallback: some builds focus the picker on load, so
		// arrowing still lands on a model.
		if err := r.Press(ctx, "ArrowDown"); err != nil {
			return err
		}
		return r.Press(ctx, "Enter")
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	if _, err := r.SafeClick(ctx, locProviderGroup); err != nil {
		return err
	}
	chosen, err := r.SafeClick(ctx, locModelOption)
	if err != nil {
		return err
	}
	if !chosen {
		if err := r.Press(ctx, "ArrowDown"); err != nil {
			return err
		}
		return r.Press(ctx, "Enter")
	}
	return nil
}

func sendTestMessage(ctx context.Context, r *driver.Runner) error {
	filled, err := r.SafeFill(ctx, locPrompt, testMessage)
	if err != nil {
		return err
	}
	if filled {
		if err := submitMessage(ctx, r); err != nil {
			return err
		}
		if err := r.Sleep(ctx, answerWait); err != nil {
			return err
		}
		if err := r.Settle(ctx, driver.QuietTimeout); err != nil {
			return err
		}
	}
	r.Checkpoint(ctx, "first message")
	return nil
}

func submitMessage(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeClick(ctx, locSend)
	if err != nil {
		return err
	}
	if !ok {
		return r.Press(ctx, "Enter")
	}
	return nil
}

func openAgentBuilder(ctx context.Context, r *driver.Runner) error {
	return openAndCapture(ctx, r, locAgentBuilder, "agent builder")
}

func browsePrompts(ctx context.Context, r *driver.Runner) error {
	return openAndCapture(ctx, r, locPrompts, "prompts library")
}

func exploreAttachments(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeClick(ctx, locAttach)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	n, err := r.Count(ctx, selMenuItem)
	if err != nil {
		return err
	}
	log.Printf("[SCRIPT]   └── attachment menu exposes %d option(s)", n)
	return r.Press(ctx, "Escape")
}

func verifyParameters(ctx context.Context, r *driver.Runner) error {
	present, err := r.HasText(ctx, "Parameters")
	if err != nil {
		return err
	}
	if present {
		log.Printf("[SCRIPT]   └── parameters panel present")
	} else {
		log.Printf("[SCRIPT]   └── parameters panel not on screen")
	}
	r.Checkpoint(ctx, "parameters panel")
	return nil
}

func toggleSidePanel(ctx context.Context, r *driver.Runner) error {
	hidden, err := r.SafeClick(ctx, locSidePanelToggle)
	if err != nil {
		return err
	}
	if !hidden {
		return nil
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	r.Checkpoint(ctx, "side panel hidden")
	_, err = r.SafeClick(ctx, locSidePanelToggle)
	return err
}

func openSettings(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeClick(ctx, locNavUser)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	if _, err := r.SafeClick(ctx, locSettingsItem); err != nil {
		return err
	}
	return r.Sleep(ctx, menuSettle)
}

func reviewTheme(ctx context.Context, r *driver.Runner) error {
	if _, err := r.SafeClick(ctx, locThemeSelector); err != nil {
		return err
	}
	r.Checkpoint(ctx, "theme settings")
	return nil
}

func reviewGeneral(ctx context.Context, r *driver.Runner) error {
	if _, err := r.SafeClick(ctx, locTabGeneral); err != nil {
		return err
	}
	r.Checkpoint(ctx, "general settings")
	return nil
}

func reviewDataControls(ctx context.Context, r *driver.Runner) error {
	if _, err := r.SafeClick(ctx, locTabData); err != nil {
		return err
	}
	r.Checkpoint(ctx, "data controls")
	return nil
}

func reviewAccount(ctx context.Context, r *driver.Runner) error {
	if _, err := r.SafeClick(ctx, locTabAccount); err != nil {
		return err
	}
	r.Checkpoint(ctx, "account settings")
	return nil
}

func closeSettings(ctx context.Context, r *driver.Runner) error {
	return dismiss(ctx, r)
}

func returnAndToggleSidebar(ctx context.Context, r *driver.Runner) error {
	if err := r.Navigate(ctx, r.Config().BaseURL); err != nil {
		return err
	}
	if err := r.Settle(ctx, driver.QuietTimeout); err != nil {
		return err
	}
	collapsed, err := r.SafeClick(ctx, locNavToggle)
	if err != nil {
		return err
	}
	if !collapsed {
		return nil
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	_, err = r.SafeClick(ctx, locNavToggle)
	return err
}

func countConversations(ctx context.Context, r *driver.Runner) error {
	n, err := r.Count(ctx, selConvoItem)
	if err != nil {
		return err
	}
	log.Printf("[SCRIPT]   └── %d conversation(s) in the sidebar", n)
	return nil
}

func openUserMenu(ctx context.Context, r *driver.Runner) error {
	return openAndCapture(ctx, r, locNavUser, "user menu")
}

func searchConversations(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeFill(ctx, locSearchInput, "test")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	return r.Press(ctx, "Escape")
}

func openConversationMenu(ctx context.Context, r *driver.Runner) error {
	return openAndCapture(ctx, r, locConvoMenu, "conversation menu")
}

func inspectModelInfo(ctx context.Context, r *driver.Runner) error {
	return openAndCapture(ctx, r, locModelInfo, "model info")
}

func openShareMenu(ctx context.Context, r *driver.Runner) error {
	return openAndCapture(ctx, r, locShare, "share menu")
}

func startAnotherChat(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeClick(ctx, locNewChat)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return r.Settle(ctx, driver.QuietTimeout)
}

func toggleVoiceInput(ctx context.Context, r *driver.Runner) error {
	on, err := r.SafeClick(ctx, locMicrophone)
	if err != nil {
		return err
	}
	if !on {
		return nil
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	_, err = r.SafeClick(ctx, locMicrophone)
	return err
}

func interruptGeneration(ctx context.Context, r *driver.Runner) error {
	filled, err := r.SafeFill(ctx, locPrompt, longPrompt)
	if err != nil {
		return err
	}
	if !filled {
		return nil
	}
	if err := submitMessage(ctx, r); err != nil {
		return err
	}
	if err := r.Sleep(ctx, interruptDelay); err != nil {
		return err
	}
	stopped, err := r.SafeClick(ctx, locStop)
	if err != nil {
		return err
	}
	if !stopped {
		log.Printf("[SCRIPT]   └── generation finished before it could be interrupted")
	}
	return nil
}

func regenerateResponse(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeClick(ctx, locRegenerate)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.Sleep(ctx, answerWait/2); err != nil {
		return err
	}
	return r.Settle(ctx, driver.QuietTimeout)
}

func copyMessage(ctx context.Context, r *driver.Runner) error {
	_, err := r.SafeClick(ctx, locCopyMessage)
	return err
}

func renameConversation(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeClick(ctx, locRename)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	renamed, err := r.SafeFill(ctx, locRenameInput, "chatwalk smoke run")
	if err != nil {
		return err
	}
	if !renamed {
		return r.Press(ctx, "Escape")
	}
	return r.Press(ctx, "Enter")
}

// locateDeleteControl proves the delete affordance exists without touching
// it. The walkthrough must leave the account's conversations intact, so
// confirming a deletion is out of bounds no matter what is on screen.
func locateDeleteControl(ctx context.Context, r *driver.Runner) error {
	ok, err := r.SafeClick(ctx, locConvoMenu)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	n, err := r.Count(ctx, selDeleteOpt)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[SCRIPT]   └── delete control located; leaving the conversation untouched")
	} else {
		log.Printf("[SCRIPT]   └── delete control not found in the menu")
	}
	return r.Press(ctx, "Escape")
}

func probeKeyboardShortcuts(ctx context.Context, r *driver.Runner) error {
	before, err := r.Count(ctx, selNavPane)
	if err != nil {
		return err
	}
	if err := r.Press(ctx, sidebarShortcut); err != nil {
		return err
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	after, err := r.Count(ctx, selNavPane)
	if err != nil {
		return err
	}
	if before != after {
		log.Printf("[SCRIPT]   └── sidebar shortcut works (%d → %d panes)", before, after)
	} else {
		log.Printf("[SCRIPT]   └── sidebar shortcut had no visible effect")
	}
	// Fire it again so the layout ends where it started.
	return r.Press(ctx, sidebarShortcut)
}

func scrollConversation(ctx context.Context, r *driver.Runner) error {
	if err := r.Page().ScrollBy(ctx, 1200); err != nil {
		return err
	}
	if err := r.Sleep(ctx, menuSettle); err != nil {
		return err
	}
	return r.Page().ScrollBy(ctx, -1200)
}

func finishOnLanding(ctx context.Context, r *driver.Runner) error {
	if err := r.Navigate(ctx, r.Config().BaseURL); err != nil {
		return err
	}
	if err := r.Settle(ctx, driver.QuietTimeout); err != nil {
		return err
	}
	r.Checkpoint(ctx, "final state")
	return nil
}
