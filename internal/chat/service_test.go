package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/neurobot/internal/embedding"
	"github.com/hyperjump/neurobot/internal/indexer"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/kbrouter"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/session"
	"github.com/hyperjump/neurobot/internal/storage"
	"github.com/hyperjump/neurobot/internal/tenant"
)

type fakeGenerator struct {
	reply string
	err   error
	calls []Request
}

func (g *fakeGenerator) Generate(_ context.Context, req Request) (string, error) {
	g.calls = append(g.calls, req)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) last(t *testing.T) Request {
	t.Helper()
	if len(g.calls) == 0 {
		t.Fatal("generator was not called")
	}
	return g.calls[len(g.calls)-1]
}

type fixture struct {
	tc       *tenant.Context
	manager  *kb.Manager
	sessions *session.Router
	gen      *fakeGenerator
	analyzer *fakeGenerator
	status   *StatusStore
	models   *ModelStore
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := kb.NewFileRepository()
	syncer := indexer.NewSynchronizer(repo, embedding.NewMockEmbedder(16))
	f := &fixture{
		tc:       &tenant.Context{TenantID: "acme", DataRoot: t.TempDir()},
		manager:  kb.NewManager(repo, kb.WithSyncer(syncer)),
		sessions: session.NewRouter(storage.NewJSONSessionStore()),
		gen:      &fakeGenerator{reply: "generated reply"},
		analyzer: &fakeGenerator{reply: "YES"},
		status:   NewStatusStore(nil),
		models:   NewModelStore(tenant.ModelLite, nil),
	}
	f.svc = NewService(Deps{
		Sessions:  f.sessions,
		KBRouter:  kbrouter.NewRouter(f.manager, f.sessions),
		KBs:       f.manager,
		Retriever: syncer,
		Generator: f.gen,
		Status:    f.status,
		Models:    f.models,
	}, WithAnalyzer(f.analyzer))

	ctx := f.ctx()
	if _, err := f.manager.AddEntries(ctx, kb.DefaultID,
		models.Entry{Question: "How do I get a refund?", Answer: "Write to support within 14 days."},
		models.Entry{Question: "Where is the office?", Answer: "Main street 1."},
	); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) ctx() context.Context {
	return tenant.WithContext(context.Background(), f.tc)
}

func (f *fixture) ctxWith(mod func(*tenant.Context)) context.Context {
	c := *f.tc
	mod(&c)
	return tenant.WithContext(context.Background(), &c)
}

func TestAsk_AnswersAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx()

	ans, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "  refund please  "})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Response != "generated reply" || ans.KBID != kb.DefaultID || ans.Model != tenant.ModelLite {
		t.Errorf("answer: %+v", ans)
	}
	req := f.gen.last(t)
	if req.Message != "refund please" {
		t.Errorf("message = %q", req.Message)
	}
	if len(req.Hits) != 2 || len(req.History) != 0 {
		t.Errorf("hits %d, history %d", len(req.Hits), len(req.History))
	}
	if !strings.Contains(req.System, "### Q&A 1") || !strings.Contains(req.System, "How do I get a refund?") {
		t.Errorf("system prompt lacks context:\n%s", req.System)
	}

	sess, err := f.sessions.Get(ctx, ans.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Messages) != 2 || sess.Messages[0].Role != session.RoleUser || sess.Messages[1].Content != "generated reply" {
		t.Errorf("stored messages: %+v", sess.Messages)
	}

	ans2, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "and the office?"})
	if err != nil {
		t.Fatal(err)
	}
	if ans2.SessionID != ans.SessionID {
		t.Error("same ip got a new session")
	}
	if h := f.gen.last(t).History; len(h) != 2 || h[0].Content != "refund please" {
		t.Errorf("history: %+v", h)
	}
}

func TestAsk_EmptyMessage(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Ask(f.ctx(), Question{IP: "1.2.3.4", Message: "   "}); !errors.Is(err, kb.ErrInvalid) {
		t.Errorf("got %v", err)
	}
}

func TestAsk_MasksPersonalData(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx()
	ans, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "mail john.doe@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if got := f.gen.last(t).Message; got != "mail jo***@example.com" {
		t.Errorf("generator saw %q", got)
	}
	if _, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "thanks"}); err != nil {
		t.Fatal(err)
	}
	if h := f.gen.last(t).History; h[0].Content != "mail jo***@example.com" {
		t.Errorf("history not masked: %q", h[0].Content)
	}
	sess, _ := f.sessions.Get(ctx, ans.SessionID)
	if sess.Messages[0].Content != "mail john.doe@example.com" {
		t.Errorf("stored message should be the original: %q", sess.Messages[0].Content)
	}
}

func TestAsk_Stopped(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx()
	if _, err := f.status.Stop(ctx, StoppedByUser, "Back soon"); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "hello"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
	var se *StoppedError
	if !errors.As(err, &se) || se.Message != "Back soon" {
		t.Errorf("stop message: %v", err)
	}
	if len(f.gen.calls) != 0 {
		t.Error("generator called while stopped")
	}
	if _, err := f.sessions.GetByIP(ctx, "1.2.3.4"); !errors.Is(err, kb.ErrNotFound) {
		t.Errorf("stopped chatbot created a session: %v", err)
	}

	if _, err := f.status.Start(ctx, StoppedByUser); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "hello"}); err != nil {
		t.Errorf("after start: %v", err)
	}
}

func TestAsk_PasswordAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx()
	sales, err := f.manager.Create(ctx, "Sales", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	first, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	calls := len(f.gen.calls)

	sw, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}
	if !sw.Switched || sw.KBID != sales.ID || sw.Response != "Switched to knowledge base 'Sales'." {
		t.Errorf("switch answer: %+v", sw)
	}
	if sw.SessionID == first.SessionID {
		t.Error("switch must start a new session")
	}
	if len(f.gen.calls) != calls {
		t.Error("control message reached the generator")
	}

	next, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "prices?"})
	if err != nil {
		t.Fatal(err)
	}
	if next.KBID != sales.ID || next.SessionID != sw.SessionID {
		t.Errorf("after switch: %+v", next)
	}
	if len(f.gen.last(t).Hits) != 0 {
		t.Error("empty knowledge base returned hits")
	}

	reset, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: kb.ResetToken})
	if err != nil {
		t.Fatal(err)
	}
	if !reset.Switched || reset.KBID != kb.DefaultID || reset.Response != "Switched to default knowledge base." {
		t.Errorf("reset answer: %+v", reset)
	}
	list, _ := f.sessions.List(ctx)
	for _, s := range list {
		if s.FirstMessage == "s3cret" || s.FirstMessage == kb.ResetToken {
			t.Errorf("control message stored in %s", s.SessionID)
		}
	}
}

func TestAsk_Overrides(t *testing.T) {
	f := newFixture(t)
	tone := 0
	ctx := f.ctxWith(func(c *tenant.Context) {
		c.Persona = tenant.Persona{Tone: &tone}
		c.Model = tenant.ModelPro
	})
	ans, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	req := f.gen.last(t)
	if ans.Model != tenant.ModelPro || req.Model != tenant.ModelPro {
		t.Errorf("model = %s / %s", ans.Model, req.Model)
	}
	if !strings.Contains(req.System, toneLines[0]) {
		t.Errorf("persona tone not applied:\n%s", req.System)
	}

	if _, err := f.models.Set(f.ctx(), "pro"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Ask(f.ctx(), Question{IP: "5.6.7.8", Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if m := f.gen.last(t).Model; m != tenant.ModelPro {
		t.Errorf("stored model not used: %s", m)
	}
}

func TestAsk_GenerationFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx()
	f.gen.err = errors.New("boom")
	if _, err := f.svc.Ask(ctx, Question{IP: "1.2.3.4", Message: "hi"}); !errors.Is(err, kb.ErrUpstreamUnavailable) {
		t.Fatalf("got %v", err)
	}
	if list, _ := f.sessions.List(ctx); len(list) != 0 {
		t.Errorf("failed turn was stored: %+v", list)
	}
}

func TestAnalyzeUnread(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx()
	sales, _ := f.manager.Create(ctx, "Sales", "s3cret")
	if _, err := f.manager.SetAnalyzeClients(ctx, sales.ID, false); err != nil {
		t.Fatal(err)
	}

	a, _ := f.svc.Ask(ctx, Question{IP: "1.1.1.1", Message: "I want to buy, call +7 (912) 345-67-89"})
	if _, err := f.svc.Ask(ctx, Question{IP: "2.2.2.2", Message: "s3cret"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Ask(ctx, Question{IP: "2.2.2.2", Message: "hello"}); err != nil {
		t.Fatal(err)
	}

	rep, err := f.svc.AnalyzeUnread(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Analyzed != 1 || rep.Potential != 1 || rep.Skipped != 1 {
		t.Errorf("report: %+v", rep)
	}
	prompt := f.analyzer.last(t).Message
	if strings.Contains(prompt, "345-67-89") || !strings.Contains(prompt, "+7 (***) ***-**-**") {
		t.Errorf("analysis prompt not masked:\n%s", prompt)
	}
	sess, _ := f.sessions.Get(ctx, a.SessionID)
	if sess.PotentialClient == nil || !*sess.PotentialClient {
		t.Errorf("verdict not stored: %+v", sess.PotentialClient)
	}

	rep, _ = f.svc.AnalyzeUnread(ctx)
	if rep.Analyzed != 0 {
		t.Errorf("already classified sessions analyzed again: %+v", rep)
	}
}

func TestAnalyzeUnread_NeedsModel(t *testing.T) {
	f := newFixture(t)
	f.svc.analyzer = nil
	if _, err := f.svc.AnalyzeUnread(f.ctx()); !errors.Is(err, kb.ErrUpstreamUnavailable) {
		t.Errorf("got %v", err)
	}
}
