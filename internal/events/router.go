package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/luciancaetano/kephascord"
	"github.com/luciancaetano/kephascord/internal/rest"
)

const optionTag = "option"

// CommandHandler handles one application command invocation.
type CommandHandler func(ctx context.Context, cc *CommandContext) error

// Responder answers interactions.
type Responder interface {
	CreateInteractionResponse(ctx context.Context, interactionID, token string, resp *rest.InteractionResponse) error
}

// RouterConfig defines the router's behaviour
type RouterConfig struct {
	// Responder backs CommandContext.Respond. Optional.
	Responder Responder
	// OnUnhandled is called for commands without a handler. Defaults to a log line.
	OnUnhandled func(ctx context.Context, i *rest.Interaction, err error)
	Logger      *zap.Logger
}

// Router routes application command interactions to exactly one handler by
// command path ("ping", "admin ban", "admin user kick").
type Router struct {
	responder   Responder
	onUnhandled func(ctx context.Context, i *rest.Interaction, err error)
	logger      *zap.Logger

	mu     sync.RWMutex
	routes map[string]CommandHandler
}

// NewRouter creates an empty router.
func NewRouter(cfg *RouterConfig) *Router {
	if cfg == nil {
		cfg = &RouterConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		responder:   cfg.Responder,
		onUnhandled: cfg.OnUnhandled,
		logger:      logger.With(zap.String("component", "router")),
		routes:      make(map[string]CommandHandler),
	}
	if r.onUnhandled == nil {
		r.onUnhandled = func(_ context.Context, i *rest.Interaction, err error) {
			r.logger.Warn("unhandled command", zap.String("interaction", i.ID), zap.Error(err))
		}
	}
	return r
}

// Handle registers h for a command path. Registering a path twice is an error.
func (r *Router) Handle(path string, h CommandHandler) error {
	key := normalizePath(path)
	if key == "" {
		return errors.New("empty command path")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[key]; ok {
		return fmt.Errorf("%w: %q", kephascord.ErrDuplicateCommand, key)
	}
	r.routes[key] = h
	return nil
}

// HandleFunc registers fn for a command path, binding the invocation's options
// into a new T before each call.
//
// Example:
//
//	type banArgs struct {
//	    User   string `option:"user,required"`
//	    Reason string `option:"reason"`
//	}
//
//	events.HandleFunc(router, "admin ban", func(ctx context.Context, cc *events.CommandContext, args banArgs) error {
//	    return cc.Respond(ctx, "banned "+args.User)
//	})
func HandleFunc[T any](r *Router, path string, fn func(ctx context.Context, cc *CommandContext, args T) error) error {
	return r.Handle(path, func(ctx context.Context, cc *CommandContext) error {
		var args T
		if err := cc.Bind(&args); err != nil {
			return err
		}
		return fn(ctx, cc, args)
	})
}

// Route runs the handler of an application command interaction. Other
// interaction types are ignored. A command without a handler is reported
// through OnUnhandled and returned as ErrUnhandledCommand.
func (r *Router) Route(ctx context.Context, i *rest.Interaction) error {
	if i == nil || i.Type != rest.InteractionApplicationCommand || i.Data == nil {
		return nil
	}

	path, options := commandPath(i.Data)

	r.mu.RLock()
	h, ok := r.routes[path]
	r.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %q", kephascord.ErrUnhandledCommand, path)
		r.onUnhandled(ctx, i, err)
		return err
	}

	cc := &CommandContext{
		Interaction: i,
		Path:        path,
		options:     make(map[string]rest.InteractionOption, len(options)),
		responder:   r.responder,
	}
	for _, o := range options {
		cc.options[o.Name] = o
	}

	r.logger.Debug("routing command", zap.String("path", path), zap.String("interaction", i.ID))
	return h(ctx, cc)
}

// Register routes the INTERACTION_CREATE events of d through the router.
func (r *Router) Register(d *Dispatcher) {
	On(d, func(ctx context.Context, ev *InteractionCreate) error {
		err := r.Route(ctx, &ev.Interaction)
		if errors.Is(err, kephascord.ErrUnhandledCommand) {
			return nil
		}
		return err
	})
}

// commandPath walks sub-command groups and sub-commands down to the leaf and
// returns the space-joined path with the leaf's options.
func commandPath(data *rest.InteractionData) (string, []rest.InteractionOption) {
	parts := []string{data.Name}
	options := data.Options

	for len(options) == 1 {
		o := options[0]
		if o.Type != rest.OptionSubCommandGroup && o.Type != rest.OptionSubCommand {
			break
		}
		parts = append(parts, o.Name)
		options = o.Options
	}

	return normalizePath(strings.Join(parts, " ")), options
}

func normalizePath(path string) string {
	return strings.ToLower(strings.Join(strings.Fields(path), " "))
}

// CommandContext carries one routed command invocation.
type CommandContext struct {
	Interaction *rest.Interaction
	// Path is the matched command path.
	Path string

	options   map[string]rest.InteractionOption
	responder Responder
}

// Options returns the leaf options of the invocation by name.
func (c *CommandContext) Options() map[string]rest.InteractionOption {
	return c.options
}

// Option returns one option by name.
func (c *CommandContext) Option(name string) (rest.InteractionOption, bool) {
	o, ok := c.options[name]
	return o, ok
}

// Bind fills the fields of the struct pointed to by dst that carry an
// `option:"name"` tag. Fields tagged `option:"name,required"` must be present.
func (c *CommandContext) Bind(dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("bind: destination must be a non-nil struct pointer, got %T", dst)
	}

	if err := c.checkRequired(rv.Elem().Type()); err != nil {
		return err
	}

	values := make(map[string]any, len(c.options))
	for name, o := range c.options {
		if len(o.Value) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(o.Value, &v); err != nil {
			return kephascord.Wrap(kephascord.ClassDecode, "bind", fmt.Errorf("option %q: %w", name, err))
		}
		values[name] = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:              optionTag,
		IgnoreUntaggedFields: true,
		WeaklyTypedInput:     true,
		Result:               dst,
	})
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := dec.Decode(values); err != nil {
		return kephascord.Wrap(kephascord.ClassDecode, "bind", err)
	}
	return nil
}

func (c *CommandContext) checkRequired(t reflect.Type) error {
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup(optionTag)
		if !ok {
			continue
		}
		name, flags, _ := strings.Cut(tag, ",")
		if flags != "required" {
			continue
		}
		if _, ok := c.options[name]; !ok {
			return kephascord.Wrap(kephascord.ClassDecode, "bind", fmt.Errorf("missing required option %q", name))
		}
	}
	return nil
}

// Respond answers the interaction with a channel message.
func (c *CommandContext) Respond(ctx context.Context, content string) error {
	return c.RespondWith(ctx, &rest.InteractionResponse{
		Type: rest.CallbackChannelMessageWithSource,
		Data: &rest.InteractionCallbackData{Content: content},
	})
}

// RespondWith answers the interaction with resp.
func (c *CommandContext) RespondWith(ctx context.Context, resp *rest.InteractionResponse) error {
	if c.responder == nil {
		return errors.New("respond: router has no responder")
	}
	return c.responder.CreateInteractionResponse(ctx, c.Interaction.ID, c.Interaction.Token, resp)
}
