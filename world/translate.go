package world

import (
	"fmt"
	"time"

	"timewarp/anim"
	"timewarp/patch"
)

// Translate 把意图翻译为提案。意图集合是封闭的，遇到未知类型属于调用方违约，直接 panic。
func (w *World) Translate(in Intent) Proposal {
	switch in := in.(type) {
	case AddPlayer:
		return propose(ApplyCommand{Command: patch.Add(EntityPath(in.PlayerID), NewEntityNode(in.PlayerID, w.startingAmmo))})
	case Move:
		return w.move(in)
	case TranslateRight:
		d := w.translateDuration
		if in.Duration != nil {
			d = time.Duration(*in.Duration) * time.Millisecond
		}
		a := anim.ByDelta(w.Now(), d, in.Delta, anim.Linear)
		return propose(ApplyCommand{Command: patch.Replace(AnimationPath(in.PlayerID, AxisX), a.Node())})
	case Shot:
		return w.shot(in)
	case StopAnimations:
		return stopAll(in.Paths, false)
	case EndAnimations:
		return stopAll(in.Paths, true)
	case CancelAnimations:
		ms := make([]Mutation, 0, len(in.Paths))
		for _, p := range in.Paths {
			ms = append(ms, ApplyCommand{Command: patch.Remove(p)})
		}
		return Proposal{Mutations: ms}
	case ApplyPatch:
		ms := make([]Mutation, 0, len(in.Commands))
		for _, c := range in.Commands {
			ms = append(ms, ApplyCommand{Command: c})
		}
		return Proposal{Mutations: ms}
	case Hydrate:
		return Proposal{
			Mutations: []Mutation{ApplyCommand{Command: patch.Replace("/", in.Snapshot)}},
			SkipStep:  !in.registersStep(),
		}
	default:
		panic(fmt.Sprintf("world: no translation for intent %T", in))
	}
}

func propose(ms ...Mutation) Proposal {
	return Proposal{Mutations: ms}
}

func (w *World) move(in Move) Proposal {
	switch in.Dir {
	case DirUp:
		return propose(IncBy{Path: InitialPath(in.PlayerID, AxisY), Amount: 1})
	case DirDown:
		return propose(DecBy{Path: InitialPath(in.PlayerID, AxisY), Amount: 1})
	case DirRight:
		return propose(IncBy{Path: InitialPath(in.PlayerID, AxisX), Amount: 1})
	case DirLeft:
		return propose(DecBy{Path: InitialPath(in.PlayerID, AxisX), Amount: 1})
	default:
		return Proposal{}
	}
}

func (w *World) shot(in Shot) Proposal {
	w.mu.RLock()
	e, ok := w.entities[in.Shooter]
	armed := ok && e.IsAlive && e.Ammo > 0
	w.mu.RUnlock()
	if !armed {
		return Proposal{}
	}
	return propose(
		DecBy{Path: EntityPath(in.Shooter, "ammo"), Amount: 1},
		HitScan{Shooter: in.Shooter, From: in.From, Direction: in.Direction},
	)
}

func stopAll(paths []string, finished bool) Proposal {
	ms := make([]Mutation, 0, len(paths))
	for _, p := range paths {
		ms = append(ms, StopAnimation{Path: p, Finished: finished})
	}
	return Proposal{Mutations: ms}
}
