package mcp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"sessioncore/internal/catalog"
	"sessioncore/internal/gameerr"
	"sessioncore/internal/progress"
	"sessioncore/internal/session"
	"sessioncore/internal/shared"
)

var errSharedDisabled = errors.New("shared edits are not configured")

type EmptyInput struct{}

type ListNPCsInput struct {
	UnlockedOnly bool `json:"unlocked_only,omitempty" jsonschema:"only list npcs that can be selected"`
}

type NPCInput struct {
	NPC string `json:"npc" jsonschema:"npc id, name or catalog index"`
}

type ChoosePermissionInput struct {
	Allow bool `json:"allow" jsonschema:"true to enable voice features, false for text only"`
}

type SetSettingsInput struct {
	Voice     *bool `json:"voice,omitempty" jsonschema:"turn npc speech on or off"`
	Listening *bool `json:"listening,omitempty" jsonschema:"turn the microphone on or off"`
}

type SendMessageInput struct {
	Text string `json:"text" jsonschema:"what the therapist says"`
}

type FlipCardsInput struct {
	A int `json:"a" jsonschema:"first card position"`
	B int `json:"b" jsonschema:"second card position"`
}

type CompleteMiniGameInput struct {
	Success bool `json:"success" jsonschema:"whether the board was solved"`
}

type AbandonInput struct {
	Confirm bool `json:"confirm,omitempty" jsonschema:"confirm leaving a session that has progress"`
}

type ImportCodeInput struct {
	Code string `json:"code" jsonschema:"save code from export_code"`
}

type AddInsightInput struct {
	NPC    string `json:"npc" jsonschema:"npc id, name or catalog index"`
	Text   string `json:"text" jsonschema:"insight to share with the room"`
	Author string `json:"author,omitempty" jsonschema:"display name, defaults to the peer id"`
}

type EditNPCInput struct {
	NPC         string `json:"npc" jsonschema:"npc id, name or catalog index"`
	Name        string `json:"name,omitempty" jsonschema:"new display name"`
	Origin      string `json:"origin,omitempty" jsonschema:"new origin"`
	Crisis      string `json:"crisis,omitempty" jsonschema:"new crisis text"`
	Habitat     string `json:"habitat,omitempty" jsonschema:"new habitat image reference"`
	OfficeImage string `json:"office_image,omitempty" jsonschema:"new office image reference"`
}

type CollectibleOutput struct {
	NPC    string `json:"npc"`
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

type ProgressOutput struct {
	Healed       []int               `json:"healed"`
	Unlocked     []int               `json:"unlocked"`
	MentalState  int                 `json:"mental_state"`
	Time         int                 `json:"time"`
	Award        bool                `json:"award"`
	Collectibles []CollectibleOutput `json:"collectibles"`
	Bonds        map[string]int      `json:"bonds"`
	Phase        string              `json:"phase"`
}

type NPCOutput struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Origin   string `json:"origin"`
	Unlocked bool   `json:"unlocked"`
	Healed   bool   `json:"healed"`
	Finale   bool   `json:"finale"`
	Bond     int    `json:"bond"`
}

type ListNPCsOutput struct {
	NPCs []NPCOutput `json:"npcs"`
}

type MessageOutput struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type MiniGameOutput struct {
	Board     []string `json:"board"`
	Moves     int      `json:"moves"`
	MaxMoves  int      `json:"max_moves"`
	Found     int      `json:"found"`
	Pairs     int      `json:"pairs"`
	Completed bool     `json:"completed"`
}

type SessionOutput struct {
	Phase               string          `json:"phase"`
	NPCID               string          `json:"npc_id"`
	NPCName             string          `json:"npc_name"`
	Index               int             `json:"index"`
	Turn                int             `json:"turn"`
	Bond                int             `json:"bond"`
	Generating          bool            `json:"generating"`
	SideActivityOffered bool            `json:"side_activity_offered"`
	ConcludeAvailable   bool            `json:"conclude_available"`
	MiniGame            *MiniGameOutput `json:"minigame,omitempty"`
	History             []MessageOutput `json:"history"`
}

type ReplyOutput struct {
	Text              string `json:"text"`
	Turn              int    `json:"turn"`
	Bond              int    `json:"bond"`
	BondDelta         int    `json:"bond_delta"`
	Fallback          bool   `json:"fallback"`
	ConcludeAvailable bool   `json:"conclude_available"`
	MiniGame          bool   `json:"minigame"`
}

type FlipOutput struct {
	A         string `json:"a"`
	B         string `json:"b"`
	Match     bool   `json:"match"`
	MovesLeft int    `json:"moves_left"`
	Done      bool   `json:"done"`
	Success   bool   `json:"success"`
}

type ConcludeOutput struct {
	NPCID        string             `json:"npc_id"`
	Failed       bool               `json:"failed"`
	Breakthrough bool               `json:"breakthrough"`
	Summary      string             `json:"summary"`
	Healed       bool               `json:"healed"`
	Unlocked     []int              `json:"unlocked"`
	MentalState  int                `json:"mental_state"`
	Collectible  *CollectibleOutput `json:"collectible,omitempty"`
}

type CodeOutput struct {
	Code string `json:"code"`
}

type InsightOutput struct {
	Key       string `json:"key,omitempty"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
}

type SettingsOutput struct {
	Voice     bool   `json:"voice"`
	Listening bool   `json:"listening"`
	Notice    string `json:"notice,omitempty"`
}

type InsightsOutput struct {
	Insights []InsightOutput `json:"insights"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_progress",
		Description: "Return heals, unlocks, bonds and collectibles for the current game",
	}, s.handleGetProgress)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_npcs",
		Description: "List catalog npcs with their unlock and heal status",
	}, s.handleListNPCs)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "select_npc",
		Description: "Open a session with an unlocked npc",
	}, s.handleSelectNPC)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "choose_permission",
		Description: "Answer the voice permission prompt shown before the first session",
	}, s.handleChoosePermission)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "set_settings",
		Description: "Change voice or listening after the permission prompt",
	}, s.handleSetSettings)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "send_message",
		Description: "Say something to the npc in the open session",
	}, s.handleSendMessage)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "start_minigame",
		Description: "Take up the side activity offered on the second turn",
	}, s.handleStartMiniGame)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "flip_cards",
		Description: "Flip two cards in the matching game",
	}, s.handleFlipCards)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "complete_minigame",
		Description: "End the matching game and return to the conversation",
	}, s.handleCompleteMiniGame)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "conclude_session",
		Description: "Analyse and close the open session",
	}, s.handleConclude)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "abandon_session",
		Description: "Leave the open session without analysis",
	}, s.handleAbandon)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "new_game",
		Description: "Reset progression to the starting roster",
	}, s.handleNewGame)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "export_code",
		Description: "Return a save code for the current progression",
	}, s.handleExportCode)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "import_code",
		Description: "Replace progression with a save code",
	}, s.handleImportCode)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_insights",
		Description: "Return the most recent shared insights for an npc",
	}, s.handleGetInsights)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "add_insight",
		Description: "Share an insight about an npc with the room",
	}, s.handleAddInsight)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "edit_npc",
		Description: "Override npc fields for everyone in the room",
	}, s.handleEditNPC)
}

func (s *Server) handleGetProgress(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, ProgressOutput, error) {
	return nil, s.progressOutput(), nil
}

func (s *Server) handleListNPCs(ctx context.Context, req *sdk.CallToolRequest, input ListNPCsInput) (*sdk.CallToolResult, ListNPCsOutput, error) {
	tracker := s.ctrl.Progress()
	records := s.cat.Records()
	output := make([]NPCOutput, 0, len(records))
	for i, rec := range records {
		unlocked := tracker.IsUnlocked(i)
		if input.UnlockedOnly && !unlocked {
			continue
		}
		output = append(output, s.npcOutput(i, rec))
	}
	return nil, ListNPCsOutput{NPCs: output}, nil
}

func (s *Server) handleSelectNPC(ctx context.Context, req *sdk.CallToolRequest, input NPCInput) (*sdk.CallToolResult, SessionOutput, error) {
	index, err := s.resolveNPC(input.NPC)
	if err != nil {
		return nil, SessionOutput{}, err
	}
	if _, err := s.ctrl.SelectNPC(ctx, index); err != nil {
		return nil, SessionOutput{}, err
	}
	if s.layer != nil {
		rec, _ := s.cat.ByIndex(index)
		s.layer.UpdatePresence(ctx, rec.ID)
	}
	return nil, sessionOutput(s.ctrl.Snapshot()), nil
}

func (s *Server) handleChoosePermission(ctx context.Context, req *sdk.CallToolRequest, input ChoosePermissionInput) (*sdk.CallToolResult, SessionOutput, error) {
	if err := s.ctrl.ChoosePermission(ctx, input.Allow); err != nil {
		return nil, SessionOutput{}, err
	}
	return nil, sessionOutput(s.ctrl.Snapshot()), nil
}

func (s *Server) handleSetSettings(ctx context.Context, req *sdk.CallToolRequest, input SetSettingsInput) (*sdk.CallToolResult, SettingsOutput, error) {
	if input.Voice != nil {
		settings := s.ctrl.Settings()
		settings.Voice = *input.Voice
		s.ctrl.SetSettings(ctx, settings)
	}
	var out SettingsOutput
	if input.Listening != nil {
		if err := s.ctrl.EnableListening(ctx, *input.Listening); err != nil {
			out.Notice = gameerr.UserMessage(gameerr.BackendUnavailable)
		}
	}
	settings := s.ctrl.Settings()
	out.Voice, out.Listening = settings.Voice, settings.Listening
	return nil, out, nil
}

func (s *Server) handleSendMessage(ctx context.Context, req *sdk.CallToolRequest, input SendMessageInput) (*sdk.CallToolResult, ReplyOutput, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, ReplyOutput{}, fmt.Errorf("text is required")
	}
	reply, err := s.ctrl.SendMessage(ctx, input.Text)
	if err != nil {
		return nil, ReplyOutput{}, err
	}
	return nil, ReplyOutput{
		Text:              reply.Text,
		Turn:              reply.Turn,
		Bond:              reply.Bond,
		BondDelta:         reply.BondDelta,
		Fallback:          reply.Fallback,
		ConcludeAvailable: reply.ConcludeAvailable,
		MiniGame:          reply.MiniGame,
	}, nil
}

func (s *Server) handleStartMiniGame(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, MiniGameOutput, error) {
	view, err := s.ctrl.StartMiniGame()
	if err != nil {
		return nil, MiniGameOutput{}, err
	}
	return nil, miniGameOutput(view), nil
}

func (s *Server) handleFlipCards(ctx context.Context, req *sdk.CallToolRequest, input FlipCardsInput) (*sdk.CallToolResult, FlipOutput, error) {
	res, err := s.ctrl.FlipCards(input.A, input.B)
	if err != nil {
		return nil, FlipOutput{}, err
	}
	return nil, FlipOutput{
		A:         res.A,
		B:         res.B,
		Match:     res.Match,
		MovesLeft: res.MovesLeft,
		Done:      res.Done,
		Success:   res.Success,
	}, nil
}

func (s *Server) handleCompleteMiniGame(ctx context.Context, req *sdk.CallToolRequest, input CompleteMiniGameInput) (*sdk.CallToolResult, SessionOutput, error) {
	if err := s.ctrl.CompleteMiniGame(input.Success); err != nil {
		return nil, SessionOutput{}, err
	}
	return nil, sessionOutput(s.ctrl.Snapshot()), nil
}

func (s *Server) handleConclude(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, ConcludeOutput, error) {
	out, err := s.ctrl.Conclude(ctx)
	if err != nil {
		return nil, ConcludeOutput{}, err
	}
	if out.Healed && s.layer != nil {
		s.layer.Announce(ctx, string(session.EventNPCHealed), map[string]string{"npc": out.NPCID})
	}

	output := ConcludeOutput{
		NPCID:        out.NPCID,
		Failed:       out.Failed,
		Breakthrough: out.Analysis.Breakthrough,
		Summary:      out.Analysis.Summary,
		Healed:       out.Healed,
		Unlocked:     nonNil(out.Unlocked),
		MentalState:  out.MentalState,
	}
	if out.Collectible != nil {
		c := collectibleOutput(*out.Collectible)
		output.Collectible = &c
	}
	return nil, output, nil
}

func (s *Server) handleAbandon(ctx context.Context, req *sdk.CallToolRequest, input AbandonInput) (*sdk.CallToolResult, SessionOutput, error) {
	if err := s.ctrl.Abandon(input.Confirm); err != nil {
		if errors.Is(err, session.ErrConfirmationRequired) {
			return nil, SessionOutput{}, fmt.Errorf("%w: call again with confirm set", err)
		}
		return nil, SessionOutput{}, err
	}
	return nil, sessionOutput(s.ctrl.Snapshot()), nil
}

func (s *Server) handleNewGame(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, ProgressOutput, error) {
	if err := s.ctrl.NewGame(); err != nil {
		return nil, ProgressOutput{}, err
	}
	return nil, s.progressOutput(), nil
}

func (s *Server) handleExportCode(ctx context.Context, req *sdk.CallToolRequest, input EmptyInput) (*sdk.CallToolResult, CodeOutput, error) {
	code, err := s.codec.EncodeCode(s.ctrl.Progress().Snapshot())
	if err != nil {
		return nil, CodeOutput{}, err
	}
	return nil, CodeOutput{Code: code}, nil
}

func (s *Server) handleImportCode(ctx context.Context, req *sdk.CallToolRequest, input ImportCodeInput) (*sdk.CallToolResult, ProgressOutput, error) {
	if strings.TrimSpace(input.Code) == "" {
		return nil, ProgressOutput{}, fmt.Errorf("code is required")
	}
	snap, err := s.codec.DecodeCode(input.Code)
	if err != nil {
		return nil, ProgressOutput{}, fmt.Errorf("%s: %w", gameerr.UserMessage(gameerr.DecodeError), err)
	}
	if err := s.ctrl.Restore(snap); err != nil {
		return nil, ProgressOutput{}, err
	}
	return nil, s.progressOutput(), nil
}

func (s *Server) handleGetInsights(ctx context.Context, req *sdk.CallToolRequest, input NPCInput) (*sdk.CallToolResult, InsightsOutput, error) {
	if s.layer == nil {
		return nil, InsightsOutput{}, errSharedDisabled
	}
	index, err := s.resolveNPC(input.NPC)
	if err != nil {
		return nil, InsightsOutput{}, err
	}
	rec, _ := s.cat.ByIndex(index)
	insights := s.layer.Insights(rec.ID)
	output := make([]InsightOutput, 0, len(insights))
	for _, in := range insights {
		output = append(output, insightOutput("", in))
	}
	return nil, InsightsOutput{Insights: output}, nil
}

func (s *Server) handleAddInsight(ctx context.Context, req *sdk.CallToolRequest, input AddInsightInput) (*sdk.CallToolResult, InsightOutput, error) {
	if s.layer == nil {
		return nil, InsightOutput{}, errSharedDisabled
	}
	index, err := s.resolveNPC(input.NPC)
	if err != nil {
		return nil, InsightOutput{}, err
	}
	rec, _ := s.cat.ByIndex(index)
	key, err := s.layer.AddInsight(ctx, rec.ID, input.Text, input.Author)
	if err != nil {
		return nil, InsightOutput{}, err
	}
	for _, in := range s.layer.Insights(rec.ID) {
		if shared.InsightKey(s.layer.PeerID(), time.UnixMilli(in.Timestamp)) == key {
			return nil, insightOutput(key, in), nil
		}
	}
	return nil, InsightOutput{Key: key, Text: strings.TrimSpace(input.Text), Author: input.Author}, nil
}

func (s *Server) handleEditNPC(ctx context.Context, req *sdk.CallToolRequest, input EditNPCInput) (*sdk.CallToolResult, NPCOutput, error) {
	if s.layer == nil {
		return nil, NPCOutput{}, errSharedDisabled
	}
	index, err := s.resolveNPC(input.NPC)
	if err != nil {
		return nil, NPCOutput{}, err
	}
	rec, _ := s.cat.ByIndex(index)
	edit := catalog.FieldEdit{
		Name:        strings.TrimSpace(input.Name),
		Origin:      strings.TrimSpace(input.Origin),
		Crisis:      strings.TrimSpace(input.Crisis),
		Habitat:     strings.TrimSpace(input.Habitat),
		OfficeImage: strings.TrimSpace(input.OfficeImage),
	}
	if err := s.layer.EditNPC(ctx, rec.ID, edit); err != nil {
		return nil, NPCOutput{}, err
	}
	rec, _ = s.cat.ByIndex(index)
	return nil, s.npcOutput(index, rec), nil
}

// resolveNPC accepts a catalog index, an id or a (possibly misspelled) name.
func (s *Server) resolveNPC(ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, fmt.Errorf("npc is required")
	}
	if i, err := strconv.Atoi(ref); err == nil {
		if _, ok := s.cat.ByIndex(i); !ok {
			return 0, fmt.Errorf("%w: index %d", catalog.ErrNotFound, i)
		}
		return i, nil
	}
	return s.cat.FindByName(ref)
}

func (s *Server) progressOutput() ProgressOutput {
	snap := s.ctrl.Progress().Snapshot()
	collectibles := make([]CollectibleOutput, 0, len(snap.Collectibles))
	for _, c := range snap.Collectibles {
		collectibles = append(collectibles, collectibleOutput(c))
	}
	bonds := make(map[string]int, len(snap.Bonds))
	for id, v := range snap.Bonds {
		bonds[id] = v
	}
	return ProgressOutput{
		Healed:       nonNil(snap.Healed),
		Unlocked:     nonNil(snap.Unlocked),
		MentalState:  snap.MentalState,
		Time:         snap.Time,
		Award:        snap.Award,
		Collectibles: collectibles,
		Bonds:        bonds,
		Phase:        s.ctrl.Phase().String(),
	}
}

func (s *Server) npcOutput(index int, rec catalog.Record) NPCOutput {
	tracker := s.ctrl.Progress()
	return NPCOutput{
		Index:    index,
		ID:       rec.ID,
		Name:     rec.Name,
		Origin:   rec.Origin,
		Unlocked: tracker.IsUnlocked(index),
		Healed:   tracker.IsHealed(index),
		Finale:   s.cat.IsFinale(index),
		Bond:     tracker.Bond(rec.ID),
	}
}

func sessionOutput(v session.View) SessionOutput {
	out := SessionOutput{
		Phase:               v.Phase.String(),
		NPCID:               v.NPCID,
		NPCName:             v.NPCName,
		Index:               v.Index,
		Turn:                v.Turn,
		Bond:                v.Bond,
		Generating:          v.Generating,
		SideActivityOffered: v.SideActivityOffered,
		ConcludeAvailable:   v.ConcludeAvailable,
		History:             make([]MessageOutput, 0, len(v.History)),
	}
	for _, m := range v.History {
		if m.Role == progress.RoleSystem {
			continue
		}
		out.History = append(out.History, MessageOutput{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}
	if v.MiniGame != nil {
		mg := miniGameOutput(*v.MiniGame)
		out.MiniGame = &mg
	}
	return out
}

func miniGameOutput(v session.MiniGameView) MiniGameOutput {
	return MiniGameOutput{
		Board:     append([]string{}, v.Board...),
		Moves:     v.Moves,
		MaxMoves:  v.MaxMoves,
		Found:     v.Found,
		Pairs:     v.Pairs,
		Completed: v.Completed,
	}
}

func collectibleOutput(c progress.Collectible) CollectibleOutput {
	return CollectibleOutput{NPC: c.NPC, Image: c.Image, Prompt: c.Prompt}
}

func insightOutput(key string, in shared.Insight) InsightOutput {
	return InsightOutput{Key: key, Text: in.Text, Author: in.Author, Timestamp: in.Timestamp}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
