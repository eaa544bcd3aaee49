package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephascord"
	"github.com/luciancaetano/kephascord/internal/rest"
)

type fakeResponder struct {
	interactionID string
	token         string
	resp          *rest.InteractionResponse
}

func (f *fakeResponder) CreateInteractionResponse(_ context.Context, interactionID, token string, resp *rest.InteractionResponse) error {
	f.interactionID = interactionID
	f.token = token
	f.resp = resp
	return nil
}

func value(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func commandInteraction(name string, options ...rest.InteractionOption) *rest.Interaction {
	return &rest.Interaction{
		ID:    "i1",
		Type:  rest.InteractionApplicationCommand,
		Token: "tok",
		Data: &rest.InteractionData{
			ID:      "cmd",
			Name:    name,
			Type:    rest.CommandTypeChatInput,
			Options: options,
		},
	}
}

// TestRouterPaths tests that interactions reach the handler of their command path
func TestRouterPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		interaction *rest.Interaction
		wantPath    string
		wantOptions []string
	}{
		{
			name:        "top level",
			interaction: commandInteraction("ping"),
			wantPath:    "ping",
		},
		{
			name:        "top level with options",
			interaction: commandInteraction("echo", rest.InteractionOption{Name: "text", Type: rest.OptionString, Value: value("hi")}),
			wantPath:    "echo",
			wantOptions: []string{"text"},
		},
		{
			name: "sub command",
			interaction: commandInteraction("admin", rest.InteractionOption{
				Name: "ban",
				Type: rest.OptionSubCommand,
				Options: []rest.InteractionOption{
					{Name: "user", Type: rest.OptionUser, Value: value("42")},
				},
			}),
			wantPath:    "admin ban",
			wantOptions: []string{"user"},
		},
		{
			name: "sub command group",
			interaction: commandInteraction("admin", rest.InteractionOption{
				Name: "user",
				Type: rest.OptionSubCommandGroup,
				Options: []rest.InteractionOption{{
					Name: "kick",
					Type: rest.OptionSubCommand,
					Options: []rest.InteractionOption{
						{Name: "user", Type: rest.OptionUser, Value: value("42")},
						{Name: "reason", Type: rest.OptionString, Value: value("spam")},
					},
				}},
			}),
			wantPath:    "admin user kick",
			wantOptions: []string{"user", "reason"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewRouter(nil)

			var got *CommandContext
			for _, path := range []string{"ping", "echo", "admin ban", "admin user kick"} {
				require.NoError(t, r.Handle(path, func(_ context.Context, cc *CommandContext) error {
					got = cc
					return nil
				}))
			}

			require.NoError(t, r.Route(context.Background(), tt.interaction))
			require.NotNil(t, got)
			assert.Equal(t, tt.wantPath, got.Path)

			assert.Len(t, got.Options(), len(tt.wantOptions))
			for _, name := range tt.wantOptions {
				_, ok := got.Option(name)
				assert.True(t, ok, name)
			}
		})
	}
}

// TestRouterDuplicate tests that a path can only be registered once
func TestRouterDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	noop := func(context.Context, *CommandContext) error { return nil }

	require.NoError(t, r.Handle("admin ban", noop))
	err := r.Handle("  Admin   BAN ", noop)
	assert.ErrorIs(t, err, kephascord.ErrDuplicateCommand)

	assert.Error(t, r.Handle("   ", noop))
}

// TestRouterUnhandled tests that a command without a handler is reported, not panicked on
func TestRouterUnhandled(t *testing.T) {
	t.Parallel()

	var reported error
	r := NewRouter(&RouterConfig{
		OnUnhandled: func(_ context.Context, i *rest.Interaction, err error) {
			assert.Equal(t, "i1", i.ID)
			reported = err
		},
	})

	err := r.Route(context.Background(), commandInteraction("missing"))
	assert.ErrorIs(t, err, kephascord.ErrUnhandledCommand)
	assert.ErrorIs(t, reported, kephascord.ErrUnhandledCommand)
	assert.Contains(t, reported.Error(), "missing")
}

// TestRouterIgnoresOtherInteractions tests that only application commands are routed
func TestRouterIgnoresOtherInteractions(t *testing.T) {
	t.Parallel()

	called := false
	r := NewRouter(&RouterConfig{
		OnUnhandled: func(context.Context, *rest.Interaction, error) { called = true },
	})

	i := commandInteraction("ping")
	i.Type = rest.InteractionMessageComponent

	assert.NoError(t, r.Route(context.Background(), i))
	assert.NoError(t, r.Route(context.Background(), &rest.Interaction{Type: rest.InteractionApplicationCommand}))
	assert.False(t, called)
}

type banArgs struct {
	User    string `option:"user,required"`
	Reason  string `option:"reason"`
	Days    int    `option:"days"`
	Silent  bool   `option:"silent"`
	Ignored string
}

// TestBind tests binding options into tagged struct fields
func TestBind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		options []rest.InteractionOption
		want    banArgs
		wantErr bool
	}{
		{
			name: "all options",
			options: []rest.InteractionOption{
				{Name: "user", Type: rest.OptionUser, Value: value("42")},
				{Name: "reason", Type: rest.OptionString, Value: value("spam")},
				{Name: "days", Type: rest.OptionInteger, Value: value(7)},
				{Name: "silent", Type: rest.OptionBoolean, Value: value(true)},
			},
			want: banArgs{User: "42", Reason: "spam", Days: 7, Silent: true},
		},
		{
			name: "optional missing",
			options: []rest.InteractionOption{
				{Name: "user", Type: rest.OptionUser, Value: value("42")},
			},
			want: banArgs{User: "42"},
		},
		{
			name: "required missing",
			options: []rest.InteractionOption{
				{Name: "reason", Type: rest.OptionString, Value: value("spam")},
			},
			wantErr: true,
		},
		{
			name: "unknown options ignored",
			options: []rest.InteractionOption{
				{Name: "user", Type: rest.OptionUser, Value: value("42")},
				{Name: "Ignored", Type: rest.OptionString, Value: value("x")},
			},
			want: banArgs{User: "42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewRouter(nil)

			var (
				got     banArgs
				bindErr error
			)
			require.NoError(t, r.Handle("ban", func(_ context.Context, cc *CommandContext) error {
				bindErr = cc.Bind(&got)
				return nil
			}))
			require.NoError(t, r.Route(context.Background(), commandInteraction("ban", tt.options...)))

			if tt.wantErr {
				require.Error(t, bindErr)
				class, _ := kephascord.ClassOf(bindErr)
				assert.Equal(t, kephascord.ClassDecode, class)
				return
			}
			require.NoError(t, bindErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestBindRejectsNonStruct tests that Bind needs a struct pointer
func TestBindRejectsNonStruct(t *testing.T) {
	t.Parallel()

	cc := &CommandContext{}
	var s string
	assert.Error(t, cc.Bind(s))
	assert.Error(t, cc.Bind(&s))
	assert.Error(t, cc.Bind((*banArgs)(nil)))
}

// TestHandleFuncRespond tests typed handlers and responding through the router's responder
func TestHandleFuncRespond(t *testing.T) {
	t.Parallel()

	responder := &fakeResponder{}
	r := NewRouter(&RouterConfig{Responder: responder})

	require.NoError(t, HandleFunc(r, "admin ban", func(ctx context.Context, cc *CommandContext, args banArgs) error {
		return cc.Respond(ctx, "banned "+args.User)
	}))

	err := r.Route(context.Background(), commandInteraction("admin", rest.InteractionOption{
		Name:    "ban",
		Type:    rest.OptionSubCommand,
		Options: []rest.InteractionOption{{Name: "user", Type: rest.OptionUser, Value: value("42")}},
	}))
	require.NoError(t, err)

	assert.Equal(t, "i1", responder.interactionID)
	assert.Equal(t, "tok", responder.token)
	require.NotNil(t, responder.resp)
	assert.Equal(t, rest.CallbackChannelMessageWithSource, responder.resp.Type)
	assert.Equal(t, "banned 42", responder.resp.Data.Content)
}

// TestRespondWithoutResponder tests that responding needs a configured responder
func TestRespondWithoutResponder(t *testing.T) {
	t.Parallel()

	cc := &CommandContext{Interaction: commandInteraction("ping")}
	assert.Error(t, cc.Respond(context.Background(), "pong"))
}

// TestRouterRegister tests routing INTERACTION_CREATE events from a dispatcher
func TestRouterRegister(t *testing.T) {
	t.Parallel()

	var reported []error
	d := NewDispatcher(&DispatcherConfig{OnError: func(err error) { reported = append(reported, err) }})

	unhandled := 0
	r := NewRouter(&RouterConfig{
		OnUnhandled: func(context.Context, *rest.Interaction, error) { unhandled++ },
	})
	r.Register(d)

	calls := 0
	require.NoError(t, r.Handle("ping", func(context.Context, *CommandContext) error {
		calls++
		return nil
	}))
	require.NoError(t, r.Handle("fail", func(context.Context, *CommandContext) error {
		return errors.New("handler failed")
	}))

	ctx := context.Background()
	d.Dispatch(ctx, dispatch(TypeInteractionCreate, 1, `{"id":"i1","type":2,"token":"t","data":{"id":"c","name":"ping","type":1}}`))
	d.Dispatch(ctx, dispatch(TypeInteractionCreate, 2, `{"id":"i2","type":2,"token":"t","data":{"id":"c","name":"nope","type":1}}`))
	d.Dispatch(ctx, dispatch(TypeInteractionCreate, 3, `{"id":"i3","type":2,"token":"t","data":{"id":"c","name":"fail","type":1}}`))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, unhandled)
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "handler failed")
}
