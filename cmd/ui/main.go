package main

import (
	"context"
	"image/color"
	"log"
	"os"
	"sync"

	"gioui.org/app"
	"gioui.org/font"
	"gioui.org/font/gofont"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"taskmaster/internal/db"
	"taskmaster/internal/session"
	"taskmaster/internal/tasksync"
	"taskmaster/pkg/blob"
	"taskmaster/pkg/identity"
	"taskmaster/pkg/todo"
)

var theme *material.Theme

// Pages
const (
	pageLogin = iota
	pageRegister
	pageHome
	pageAdd
)

type UI struct {
	ctx      context.Context
	window   *app.Window
	session  *session.Controller
	engine   *tasksync.Engine
	provider identity.Provider

	mu          sync.Mutex
	currentPage int
	todos       []todo.Todo
	notice      string

	// Login / Register
	emailEditor    widget.Editor
	passwordEditor widget.Editor
	submitBtn      widget.Clickable
	switchPageBtn  widget.Clickable

	// Home
	taskList      widget.List
	toggleBtn     []widget.Clickable
	deleteBtn     []widget.Clickable
	addBtn        widget.Clickable
	logoutBtn     widget.Clickable
	pendingDelete string
	confirmBtn    widget.Clickable
	cancelBtn     widget.Clickable

	// Add task
	titleEditor widget.Editor
	descEditor  widget.Editor
	imageEditor widget.Editor
	saveBtn     widget.Clickable
	backBtn     widget.Clickable
}

func main() {
	ctx := context.Background()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	store := todo.NewPgStore(pool)
	provider := identity.NewPgProvider(pool)
	blobs := blob.NewPgStore(pool, blobBaseURL())

	if err := store.EnsureTable(ctx); err != nil {
		log.Fatalf("ensure todos table: %v", err)
	}
	if err := provider.EnsureTable(ctx); err != nil {
		log.Fatalf("ensure users table: %v", err)
	}
	if err := blobs.EnsureTable(ctx); err != nil {
		log.Fatalf("ensure blobs table: %v", err)
	}

	theme = material.NewTheme()
	theme.Shaper = text.NewShaper(text.WithCollection(gofont.Collection()))
	theme.Palette.ContrastBg = color.NRGBA{R: 0x4E, G: 0x46, B: 0xE5, A: 0xFF}

	w := new(app.Window)
	w.Option(app.Title("Task Master"))
	w.Option(app.Size(unit.Dp(420), unit.Dp(760)))

	ui := &UI{
		ctx:      ctx,
		window:   w,
		provider: provider,
		todos:    []todo.Todo{},
	}
	ui.taskList.Axis = layout.Vertical
	ui.emailEditor.SingleLine = true
	ui.passwordEditor.SingleLine = true
	ui.passwordEditor.Mask = '*'
	ui.titleEditor.SingleLine = true
	ui.imageEditor.SingleLine = true

	ui.engine = tasksync.New(store, blobs, tasksync.Config{
		UploadEnabled: os.Getenv("UPLOADS_DISABLED") == "",
	}, func(list []todo.Todo) {
		ui.mu.Lock()
		ui.todos = list
		ui.mu.Unlock()
		w.Invalidate()
	})

	// The controller's transition is the only thing that opens or closes
	// the engine subscription and flips the screen group.
	ui.session = session.New(provider, func(st session.State, ident *identity.Identity) {
		if st == session.StateAuthenticated {
			ui.engine.Start(ctx, ident)
			ui.setPage(pageHome)
		} else {
			ui.engine.Stop()
			ui.setPage(pageLogin)
		}
		w.Invalidate()
	})
	defer ui.session.Release()

	go func() {
		if err := ui.run(w); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}()
	app.Main()
}

func blobBaseURL() string {
	if base := os.Getenv("BLOB_BASE_URL"); base != "" {
		return base
	}
	return "http://localhost:8080"
}

func (ui *UI) run(w *app.Window) error {
	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			ui.handleClicks(gtx)
			ui.layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}

func (ui *UI) setPage(page int) {
	ui.mu.Lock()
	ui.currentPage = page
	ui.notice = ""
	ui.pendingDelete = ""
	ui.mu.Unlock()
}

func (ui *UI) setNotice(msg string) {
	ui.mu.Lock()
	ui.notice = msg
	ui.mu.Unlock()
	ui.window.Invalidate()
}

func (ui *UI) page() int {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.currentPage
}

func (ui *UI) snapshot() []todo.Todo {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.todos
}

func (ui *UI) handleClicks(gtx layout.Context) {
	switch ui.page() {
	case pageLogin, pageRegister:
		ui.handleAuthClicks(gtx)
	case pageHome:
		ui.handleHomeClicks(gtx)
	case pageAdd:
		ui.handleAddClicks(gtx)
	}
}

func (ui *UI) handleAuthClicks(gtx layout.Context) {
	registering := ui.page() == pageRegister
	if ui.submitBtn.Clicked(gtx) {
		email := ui.emailEditor.Text()
		password := ui.passwordEditor.Text()
		if email == "" || password == "" {
			ui.setNotice("Please fill in all fields")
			return
		}
		if registering {
			go ui.signUp(email, password)
		} else {
			go ui.signIn(email, password)
		}
	}
	if ui.switchPageBtn.Clicked(gtx) {
		if registering {
			ui.setPage(pageLogin)
		} else {
			ui.setPage(pageRegister)
		}
	}
}

func (ui *UI) handleHomeClicks(gtx layout.Context) {
	todos := ui.snapshot()
	if ui.addBtn.Clicked(gtx) {
		ui.titleEditor.SetText("")
		ui.descEditor.SetText("")
		ui.imageEditor.SetText("")
		ui.setPage(pageAdd)
	}
	if ui.logoutBtn.Clicked(gtx) {
		go ui.signOut()
	}
	if ui.confirmBtn.Clicked(gtx) {
		ui.mu.Lock()
		id := ui.pendingDelete
		ui.pendingDelete = ""
		ui.mu.Unlock()
		if id != "" {
			go ui.deleteTodo(id)
		}
	}
	if ui.cancelBtn.Clicked(gtx) {
		ui.mu.Lock()
		ui.pendingDelete = ""
		ui.mu.Unlock()
	}
	for i := range ui.toggleBtn {
		if i < len(todos) && ui.toggleBtn[i].Clicked(gtx) {
			go ui.toggleTodo(todos[i].ID, todos[i].Status)
		}
	}
	for i := range ui.deleteBtn {
		if i < len(todos) && ui.deleteBtn[i].Clicked(gtx) {
			ui.mu.Lock()
			ui.pendingDelete = todos[i].ID
			ui.mu.Unlock()
		}
	}
}

func (ui *UI) handleAddClicks(gtx layout.Context) {
	if ui.saveBtn.Clicked(gtx) {
		go ui.createTodo(ui.titleEditor.Text(), ui.descEditor.Text(), ui.imageEditor.Text())
	}
	if ui.backBtn.Clicked(gtx) {
		ui.setPage(pageHome)
	}
}

// Actions

func (ui *UI) signIn(email, password string) {
	if _, err := ui.provider.SignIn(ui.ctx, email, password); err != nil {
		ui.setNotice("Login failed: " + err.Error())
	}
}

func (ui *UI) signUp(email, password string) {
	if _, err := ui.provider.SignUp(ui.ctx, email, password); err != nil {
		ui.setNotice("Registration failed: " + err.Error())
	}
}

func (ui *UI) signOut() {
	if err := ui.provider.SignOut(ui.ctx); err != nil {
		log.Printf("sign out: %v", err)
	}
}

func (ui *UI) createTodo(title, description, imageURI string) {
	if err := ui.engine.Create(ui.ctx, title, description, imageURI); err != nil {
		ui.setNotice("Could not save task: " + err.Error())
		return
	}
	ui.setPage(pageHome)
	ui.window.Invalidate()
}

func (ui *UI) toggleTodo(id, status string) {
	if err := ui.engine.ToggleStatus(ui.ctx, id, status); err != nil {
		ui.setNotice("Could not update status")
	}
}

func (ui *UI) deleteTodo(id string) {
	if err := ui.engine.Delete(ui.ctx, id); err != nil {
		ui.setNotice("Could not delete task")
	}
}

// Layout

func (ui *UI) layout(gtx layout.Context) layout.Dimensions {
	if !ui.session.Resolved() {
		return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			gtx.Constraints.Min.X = gtx.Dp(unit.Dp(40))
			return material.Loader(theme).Layout(gtx)
		})
	}
	return layout.Inset{Top: unit.Dp(24), Right: unit.Dp(20), Bottom: unit.Dp(24), Left: unit.Dp(20)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		switch ui.page() {
		case pageHome:
			return ui.layoutHome(gtx)
		case pageAdd:
			return ui.layoutAdd(gtx)
		case pageRegister:
			return ui.layoutAuth(gtx, true)
		default:
			return ui.layoutAuth(gtx, false)
		}
	})
}

func (ui *UI) layoutAuth(gtx layout.Context, registering bool) layout.Dimensions {
	title := "Task Master"
	subtitle := "Sign in to continue"
	submit := "Login"
	switchLabel := "Don't have an account? Sign Up"
	if registering {
		subtitle = "Create an account"
		submit = "Sign Up"
		switchLabel = "Already have an account? Login"
	}

	ui.mu.Lock()
	notice := ui.notice
	ui.mu.Unlock()

	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(material.H4(theme, title).Layout),
		layout.Rigid(material.Body1(theme, subtitle).Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(24)}.Layout),
		layout.Rigid(material.Editor(theme, &ui.emailEditor, "Email").Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(12)}.Layout),
		layout.Rigid(material.Editor(theme, &ui.passwordEditor, "Password").Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(24)}.Layout),
		layout.Rigid(material.Button(theme, &ui.submitBtn, submit).Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(12)}.Layout),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			btn := material.Button(theme, &ui.switchPageBtn, switchLabel)
			btn.Background = color.NRGBA{A: 0}
			btn.Color = theme.Palette.ContrastBg
			return btn.Layout(gtx)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			if notice == "" {
				return layout.Dimensions{}
			}
			label := material.Body2(theme, notice)
			label.Color = color.NRGBA{R: 0xC0, G: 0x30, B: 0x30, A: 0xFF}
			return label.Layout(gtx)
		}),
	)
}

func (ui *UI) layoutHome(gtx layout.Context) layout.Dimensions {
	todos := ui.snapshot()
	for len(ui.toggleBtn) < len(todos) {
		ui.toggleBtn = append(ui.toggleBtn, widget.Clickable{})
		ui.deleteBtn = append(ui.deleteBtn, widget.Clickable{})
	}

	ui.mu.Lock()
	pending := ui.pendingDelete
	notice := ui.notice
	ui.mu.Unlock()

	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{Spacing: layout.SpaceBetween}.Layout(gtx,
				layout.Rigid(material.H5(theme, "My Tasks").Layout),
				layout.Rigid(func(gtx layout.Context) layout.Dimensions {
					btn := material.Button(theme, &ui.logoutBtn, "Log out")
					btn.Background = color.NRGBA{A: 0}
					btn.Color = theme.Palette.ContrastBg
					return btn.Layout(gtx)
				}),
			)
		}),
		layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			if notice == "" {
				return layout.Dimensions{}
			}
			label := material.Body2(theme, notice)
			label.Color = color.NRGBA{R: 0xC0, G: 0x30, B: 0x30, A: 0xFF}
			return label.Layout(gtx)
		}),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			if ui.engine.Loading() {
				return layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
					gtx.Constraints.Min.X = gtx.Dp(unit.Dp(32))
					return material.Loader(theme).Layout(gtx)
				})
			}
			if len(todos) == 0 {
				return layout.Center.Layout(gtx, material.Body1(theme, "No tasks yet. Add one!").Layout)
			}
			return material.List(theme, &ui.taskList).Layout(gtx, len(todos), func(gtx layout.Context, i int) layout.Dimensions {
				return ui.layoutTaskCard(gtx, todos[i], i, pending)
			})
		}),
		layout.Rigid(material.Button(theme, &ui.addBtn, "Add task").Layout),
	)
}

func (ui *UI) layoutTaskCard(gtx layout.Context, t todo.Todo, i int, pending string) layout.Dimensions {
	return layout.Inset{Bottom: unit.Dp(10)}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Alignment: layout.Middle}.Layout(gtx,
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						mark := "[ ]"
						if t.Status == todo.StatusDone {
							mark = "[x]"
						}
						btn := material.Button(theme, &ui.toggleBtn[i], mark)
						btn.Background = color.NRGBA{A: 0}
						btn.Color = theme.Palette.ContrastBg
						return btn.Layout(gtx)
					}),
					layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
						label := material.Body1(theme, t.Title)
						label.Font.Weight = font.Bold
						if t.Status == todo.StatusDone {
							label.Color = color.NRGBA{R: 0xAA, G: 0xAA, B: 0xAA, A: 0xFF}
						}
						return label.Layout(gtx)
					}),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						btn := material.Button(theme, &ui.deleteBtn[i], "Delete")
						btn.Background = color.NRGBA{A: 0}
						btn.Color = color.NRGBA{R: 0xFF, G: 0x3B, B: 0x30, A: 0xFF}
						return btn.Layout(gtx)
					}),
				)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if t.Description == "" {
					return layout.Dimensions{}
				}
				return material.Body2(theme, t.Description).Layout(gtx)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if t.ImageURL == "" {
					return layout.Dimensions{}
				}
				label := material.Caption(theme, "attachment: "+t.ImageURL)
				label.Color = color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xFF}
				return label.Layout(gtx)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				if pending != t.ID {
					return layout.Dimensions{}
				}
				return layout.Flex{}.Layout(gtx,
					layout.Rigid(material.Body2(theme, "Delete this task? ").Layout),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						btn := material.Button(theme, &ui.confirmBtn, "Delete")
						btn.Background = color.NRGBA{R: 0xC0, G: 0x30, B: 0x30, A: 0xFF}
						return btn.Layout(gtx)
					}),
					layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
					layout.Rigid(material.Button(theme, &ui.cancelBtn, "Cancel").Layout),
				)
			}),
		)
	})
}

func (ui *UI) layoutAdd(gtx layout.Context) layout.Dimensions {
	ui.mu.Lock()
	notice := ui.notice
	ui.mu.Unlock()

	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(material.H4(theme, "New Task").Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(16)}.Layout),
		layout.Rigid(material.Body2(theme, "Title").Layout),
		layout.Rigid(material.Editor(theme, &ui.titleEditor, "What needs to be done?").Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(12)}.Layout),
		layout.Rigid(material.Body2(theme, "Description").Layout),
		layout.Rigid(material.Editor(theme, &ui.descEditor, "Add details...").Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(12)}.Layout),
		layout.Rigid(material.Body2(theme, "Image (optional)").Layout),
		layout.Rigid(material.Editor(theme, &ui.imageEditor, "file:///path/to/image.jpg").Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(24)}.Layout),
		layout.Rigid(material.Button(theme, &ui.saveBtn, "Create Task").Layout),
		layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			btn := material.Button(theme, &ui.backBtn, "Cancel")
			btn.Background = color.NRGBA{A: 0}
			btn.Color = theme.Palette.ContrastBg
			return btn.Layout(gtx)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			if notice == "" {
				return layout.Dimensions{}
			}
			label := material.Body2(theme, notice)
			label.Color = color.NRGBA{R: 0xC0, G: 0x30, B: 0x30, A: 0xFF}
			return label.Layout(gtx)
		}),
	)
}
