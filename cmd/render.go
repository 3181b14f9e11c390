package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/billm/baaaht/softbus/pkg/dump"
	"github.com/billm/baaaht/softbus/pkg/pipes"
	"github.com/billm/baaaht/softbus/pkg/routing"
	"github.com/billm/baaaht/softbus/pkg/softbus"
	"github.com/billm/baaaht/softbus/pkg/types"
)

func renderRoutes(routes []routing.RouteInfo) string {
	if len(routes) == 0 {
		return styles.Muted.Render("no routes")
	}
	var rows [][]string
	for _, r := range routes {
		if len(r.Dests) == 0 {
			rows = append(rows, []string{r.MsgID.String(), strconv.Itoa(int(r.Route)), strconv.Itoa(int(r.SeqCount)), "-", "", "", "", ""})
			continue
		}
		for i, d := range r.Dests {
			id, route, seq := "", "", ""
			if i == 0 {
				id, route, seq = r.MsgID.String(), strconv.Itoa(int(r.Route)), strconv.Itoa(int(r.SeqCount))
			}
			state := "active"
			if !d.Active {
				state = styles.Warning.Render("disabled")
			}
			rows = append(rows, []string{
				id, route, seq, d.Pipe.String(),
				fmt.Sprintf("%d/%d", d.Outstanding, d.Limit),
				d.Scope.String(), state,
				fmt.Sprintf("%d/%d", d.QoS.Priority, d.QoS.Reliability),
			})
		}
	}
	return renderTable([]string{"Msg ID", "Route", "Seq", "Pipe", "Outstanding", "Scope", "State", "QoS"}, rows)
}

func renderPipes(infos []pipes.Info) string {
	if len(infos) == 0 {
		return styles.Muted.Render("no pipes")
	}
	rows := make([][]string, 0, len(infos))
	for _, p := range infos {
		owner := p.OwnerName
		if owner == "" {
			owner = p.Owner.String()
		}
		opts := "-"
		if p.Opts.Has(pipes.OptIgnoreMine) {
			opts = "ignore-mine"
		}
		rows = append(rows, []string{
			p.ID.String(), p.Name, owner,
			fmt.Sprintf("%d/%d", p.Queued, p.Depth), strconv.Itoa(p.Peak),
			strconv.FormatUint(p.Received, 10), strconv.FormatUint(p.SendErrors, 10), opts,
		})
	}
	return renderTable([]string{"Pipe", "Name", "Owner", "Queued", "Peak", "Received", "Send Errors", "Opts"}, rows)
}

func renderMsgMap(entries []routing.MapEntry) string {
	if len(entries) == 0 {
		return styles.Muted.Render("no message IDs mapped")
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.MsgID.String(), strconv.Itoa(int(e.Route))})
	}
	return renderTable([]string{"Msg ID", "Route"}, rows)
}

func renderStats(s softbus.Stats) string {
	c := s.Counters
	rows := [][]string{
		{"Commands", u(c.CommandCounter), "Command errors", u(c.CommandErrorCounter)},
		{"No subscribers", u(c.NoSubscribersCounter), "Send errors", u(c.MsgSendErrorCounter)},
		{"Receive errors", u(c.MsgReceiveErrorCounter), "Internal errors", u(c.InternalErrorCounter)},
		{"Create pipe errors", u(c.CreatePipeErrorCounter), "Subscribe errors", u(c.SubscribeErrorCounter)},
		{"Pipe overflows", u(c.PipeOverflowErrorCounter), "Msg limit errors", u(c.MsgLimitErrorCounter)},
		{"Duplicate subs", u(c.DuplicateSubscriptionsCounter), "", ""},
		{"Msg IDs", fmt.Sprintf("%d/%d", s.MsgIDsInUse, s.MaxMsgIDs), "Pipes", fmt.Sprintf("%d/%d (peak %d)", s.PipesInUse, s.MaxPipes, s.PeakPipesInUse)},
		{"Subscriptions", fmt.Sprintf("%d (peak %d)", s.SubscriptionsInUse, s.PeakSubscriptionsInUse), "Buffers", fmt.Sprintf("%d (peak %d)", s.Pool.BufsInUse, s.Pool.PeakBufsInUse)},
		{"Memory", fmt.Sprintf("%d (peak %d)", s.Pool.MemInUse, s.Pool.PeakMemInUse), "Zero copy", strconv.Itoa(s.Pool.ZeroCopyInUse)},
	}
	return renderTable([]string{"Counter", "Value", "Counter", "Value"}, rows)
}

func u(v uint64) string { return strconv.FormatUint(v, 10) }

// renderSnapshot renders every table carried by s
func renderSnapshot(s *dump.Snapshot) string {
	var b strings.Builder
	b.WriteString(styles.Subtitle.Render(fmt.Sprintf("%s dump %s taken %s", s.Kind, s.ID, s.TakenAt.Format("2006-01-02 15:04:05 MST"))))
	b.WriteString("\n\n")
	if s.Routes != nil {
		b.WriteString(section("Routing", renderRoutes(s.Routes)))
	}
	if s.MsgMap != nil {
		b.WriteString(section("Message map", renderMsgMap(s.MsgMap)))
	}
	if s.Pipes != nil {
		b.WriteString(section("Pipes", renderPipes(s.Pipes)))
	}
	if s.Stats != nil {
		b.WriteString(section("Statistics", renderStats(*s.Stats)))
	}
	return b.String()
}

// renderEventSummary counts recorded events by type and ID
func renderEventSummary(evs []types.Event) string {
	if len(evs) == 0 {
		return styles.Muted.Render("no events")
	}
	type key struct {
		typ types.EventType
		id  types.EventID
	}
	counts := make(map[key]int)
	for _, ev := range evs {
		counts[key{ev.Type, ev.EventID}]++
	}
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		typ := string(k.typ)
		switch k.typ {
		case types.EventTypeError, types.EventTypeCritical:
			typ = styles.Error.Render(typ)
		case types.EventTypeInfo:
			typ = styles.Info.Render(typ)
		}
		rows = append(rows, []string{strconv.Itoa(int(k.id)), typ, strconv.Itoa(counts[k])})
	}
	return renderTable([]string{"Event", "Type", "Count"}, rows)
}
