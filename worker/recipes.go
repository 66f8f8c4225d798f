package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

// RecipeInput is what a recipe runs on.
type RecipeInput struct {
	HumanChatInput string
	Data           any
	// Document is the focused document, when the controller has reported
	// one.
	Document *protocol.TextDocument
}

// Emit appends text to the assistant message being streamed.
type Emit func(text string) error

// Recipe is a named operation whose output is streamed to the controller as
// a growing assistant message.
type Recipe struct {
	ID    string
	Title string
	Run   func(ctx context.Context, in RecipeInput, emit Emit) error
}

type recipeSet struct {
	mu   sync.RWMutex
	byID map[string]Recipe
}

func newRecipeSet(recipes ...Recipe) *recipeSet {
	rs := &recipeSet{byID: make(map[string]Recipe)}
	for _, r := range recipes {
		rs.add(r)
	}
	return rs
}

func (rs *recipeSet) add(r Recipe) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.byID[r.ID] = r
}

func (rs *recipeSet) get(id string) (Recipe, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.byID[id]
	return r, ok
}

func (rs *recipeSet) list() []protocol.RecipeInfo {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]protocol.RecipeInfo, 0, len(rs.byID))
	for _, r := range rs.byID {
		out = append(out, protocol.RecipeInfo{ID: r.ID, Title: r.Title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func builtinRecipes() []Recipe {
	return []Recipe{
		{ID: "chat-question", Title: "Chat Question", Run: chatQuestion},
		{ID: "explain-code", Title: "Explain Code", Run: explainCode},
	}
}

// chatQuestion answers by restating the question one word at a time.
func chatQuestion(ctx context.Context, in RecipeInput, emit Emit) error {
	question := strings.TrimSpace(in.HumanChatInput)
	if question == "" {
		return emit("Ask me anything.")
	}
	words := strings.Fields("You asked: " + question)
	for i, word := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			word = " " + word
		}
		if err := emit(word); err != nil {
			return err
		}
	}
	return nil
}

// explainCode summarizes the selection of the focused document line by line.
func explainCode(ctx context.Context, in RecipeInput, emit Emit) error {
	doc := in.Document
	if doc == nil || doc.Content == nil {
		return emit("No document is focused.")
	}

	lines := strings.Split(*doc.Content, "\n")
	start, end := 0, len(lines)-1
	if sel := doc.Selection; sel != nil {
		start = min(max(sel.Start.Line, 0), len(lines)-1)
		end = min(max(sel.End.Line, start), len(lines)-1)
	}

	if err := emit(fmt.Sprintf("%s, lines %d-%d:", doc.Key(), start+1, end+1)); err != nil {
		return err
	}
	for i := start; i <= end; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if err := emit(fmt.Sprintf("\n%d: %s", i+1, line)); err != nil {
			return err
		}
	}
	return nil
}
