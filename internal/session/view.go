package session

import "sessioncore/internal/progress"

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// View is a read-only copy of the controller state for presentation.
type View struct {
	Phase               Phase              `json:"phase"`
	Token               string             `json:"token,omitempty"`
	NPCID               string             `json:"npcId,omitempty"`
	NPCName             string             `json:"npcName,omitempty"`
	Index               int                `json:"index"`
	Turn                int                `json:"turn"`
	Bond                int                `json:"bond"`
	Generating          bool               `json:"generating"`
	SideActivityOffered bool               `json:"sideActivityOffered"`
	ConcludeAvailable   bool               `json:"concludeAvailable"`
	MiniGame            *MiniGameView      `json:"miniGame,omitempty"`
	History             []progress.Message `json:"history,omitempty"`
	Settings            Settings           `json:"settings"`
}

func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{Phase: c.st.phase, Index: -1, Settings: c.settings}
	conv := c.st.conv
	if conv == nil {
		return v
	}
	v.Token = conv.token
	v.NPCID = conv.npc.ID
	v.NPCName = conv.npc.Name
	v.Index = conv.index
	v.Turn = conv.turns
	v.Bond = c.progress.Bond(conv.npc.ID)
	v.Generating = conv.generating
	v.SideActivityOffered = conv.sideOffered
	v.ConcludeAvailable = conv.concludeAvailable
	v.History = conv.transcript()
	if conv.miniGame != nil {
		mg := conv.miniGame.View()
		v.MiniGame = &mg
	}
	return v
}
