package engine

import (
	"strings"

	"github.com/corywalker/ircframe/message"
	"github.com/corywalker/ircframe/state"
)

// registerBuiltinListeners wires up the incoming-command listener
// catalog, each one updating the state store through Network.UpdateState
// so every reader sees a consistent snapshot.
func registerBuiltinListeners(r *Registry) {
	r.Register([]string{"005"}, handleISupport)
	r.Register([]string{"JOIN"}, handleJoin)
	r.Register([]string{"PART"}, handlePart)
	r.Register([]string{"KICK"}, handleKick)
	r.Register([]string{"QUIT"}, handleQuit)
	r.Register([]string{"NICK"}, handleNick)
	r.Register([]string{"CHGHOST"}, handleChghost)
	r.Register([]string{"ACCOUNT"}, handleAccount)
	r.Register([]string{"AWAY"}, handleAway)
	r.Register([]string{"301"}, handleRplAway)
	r.Register([]string{"305", "306"}, handleSelfAway)
	r.Register([]string{"352"}, handleWhoReply)
	r.Register([]string{"302"}, handleUserhostReply)
	r.Register([]string{"353"}, handleNamReply)
	r.Register([]string{"332"}, handleTopic)
	r.Register([]string{"221"}, handleUmodeIs)
	r.Register([]string{"MODE"}, handleMode)
	r.Register([]string{"RENAME"}, handleRename)
	r.Register([]string{"SETNAME"}, handleSetName)
	r.Register([]string{"PING"}, handlePing)
	r.Register([]string{"ERROR"}, handleError)
	r.Register([]string{"311"}, handleWhoisUser)
	r.Register([]string{"330"}, handleWhoisAccount)
	r.Register([]string{"CAP"}, handleCapNewDel)
}

// handleCapNewDel tracks post-registration CAP NEW/DEL churn
// (cap-notify). LS/ACK/NAK only ever occur during the registration
// handshake and are handled there, so this listener only reacts to the
// two subcommands that can arrive later in the session.
func handleCapNewDel(n *Network, snap state.Snapshot, cmd *message.Command) error {
	if len(cmd.Args) < 2 {
		return nil
	}
	sub := strings.ToUpper(cmd.Arg(1))
	capsText := cmd.Arg(len(cmd.Args) - 1)

	switch sub {
	case "NEW":
		return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
			for _, tok := range strings.Fields(capsText) {
				name, value := splitCapToken(tok)
				v := value
				s.SupportedCaps[name] = &v
			}
			return s, nil
		})
	case "DEL":
		return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
			for _, name := range strings.Fields(capsText) {
				delete(s.SupportedCaps, name)
				delete(s.EnabledCaps, name)
			}
			return s, nil
		})
	}
	return nil
}

func handleISupport(n *Network, snap state.Snapshot, cmd *message.Command) error {
	// args[0] is our own nick, the last is human-readable text.
	args := cmd.Args
	if len(args) > 1 {
		args = args[1 : len(args)-1]
	}
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		state.ParseISupportArgs(&s.ISupport, args)
		return s, nil
	})
}

func handlePing(n *Network, _ state.Snapshot, cmd *message.Command) error {
	reply := message.New("PONG", cmd.Args...)
	return n.rawSend(reply)
}

func handleError(n *Network, _ state.Snapshot, cmd *message.Command) error {
	n.logger.Warnw("ERROR from server", "detail", strings.Join(cmd.Args, " "))
	return nil
}

func handleJoin(n *Network, snap state.Snapshot, cmd *message.Command) error {
	u, ok := snap.TryExtractUserFromSource(cmd.Source)
	isSelf := false
	var selfUser state.User
	if self, ok := snap.SelfUser(); ok && strings.EqualFold(self.Nick, cmd.SourceNick()) {
		isSelf = true
		selfUser = self
	}
	channelName := cmd.Arg(0)

	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		ch, exists := s.ChannelByName(channelName)
		if !exists {
			ch = state.Channel{ID: state.NewChannelID(), Name: channelName, Modes: map[byte]*string{}, Users: map[state.UserID]string{}}
			var err error
			s, err = s.UpsertChannel(ch)
			if err != nil {
				return s, err
			}
		}

		var rec state.User
		if isSelf {
			rec = selfUser
			if _, hasExtJoin := s.EnabledCaps["extended-join"]; hasExtJoin && len(cmd.Args) >= 3 {
				account := cmd.Args[1]
				if account == "*" {
					rec.Account = ""
				} else {
					rec.Account = account
				}
				rec.RealName = cmd.Args[2]
			}
		} else if ok && u.Nick != "" {
			rec = u
			if ident, host, ok := cmd.SourceIdentHost(); ok {
				rec.Ident, rec.Host = ident, host
			}
		} else {
			nick := cmd.SourceNick()
			ident, host, _ := cmd.SourceIdentHost()
			rec = state.User{ID: state.NewUserID(), Nick: nick, Ident: ident, Host: host, Modes: map[byte]struct{}{}, Channels: map[state.ChannelID]string{}}
			if _, hasExtJoin := s.EnabledCaps["extended-join"]; hasExtJoin && len(cmd.Args) >= 3 {
				account := cmd.Args[1]
				if account != "*" {
					rec.Account = account
				}
				rec.RealName = cmd.Args[2]
			}
		}
		if rec.Modes == nil {
			rec.Modes = map[byte]struct{}{}
		}
		if rec.Channels == nil {
			rec.Channels = map[state.ChannelID]string{}
		}

		var err error
		s, err = s.UpsertUser(rec)
		if err != nil {
			return s, err
		}
		u2, _ := s.UserByNick(rec.Nick)
		ch2, _ := s.ChannelByName(channelName)
		return s.Join(u2.ID, ch2.ID, "")
	})
}

func handlePart(n *Network, snap state.Snapshot, cmd *message.Command) error {
	u, ok := snap.TryExtractUserFromSource(cmd.Source)
	if !ok {
		return nil
	}
	channels := strings.Split(cmd.Arg(0), ",")
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		for _, chName := range channels {
			ch, exists := s.ChannelByName(chName)
			if !exists {
				continue
			}
			s = s.Part(u.ID, ch.ID)
		}
		return s, nil
	})
}

func handleKick(n *Network, snap state.Snapshot, cmd *message.Command) error {
	chName := cmd.Arg(0)
	targetNick := cmd.Arg(1)
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		ch, exists := s.ChannelByName(chName)
		if !exists {
			return s, nil
		}
		target, exists := s.UserByNick(targetNick)
		if !exists {
			return s, nil
		}
		return s.Part(target.ID, ch.ID), nil
	})
}

func handleQuit(n *Network, snap state.Snapshot, cmd *message.Command) error {
	u, ok := snap.TryExtractUserFromSource(cmd.Source)
	if !ok {
		return nil
	}
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		return s.PartAll(u.ID), nil
	})
}

func handleNick(n *Network, snap state.Snapshot, cmd *message.Command) error {
	u, ok := snap.TryExtractUserFromSource(cmd.Source)
	if !ok {
		return nil
	}
	newNick := cmd.Arg(0)
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		return s.RenameUser(u.ID, newNick)
	})
}

func handleChghost(n *Network, snap state.Snapshot, cmd *message.Command) error {
	u, ok := snap.TryExtractUserFromSource(cmd.Source)
	if !ok {
		return nil
	}
	ident, host := cmd.Arg(0), cmd.Arg(1)
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		rec, exists := s.UserByID(u.ID)
		if !exists {
			return s, nil
		}
		rec.Ident, rec.Host = ident, host
		return s.UpsertUser(rec)
	})
}

func handleAccount(n *Network, snap state.Snapshot, cmd *message.Command) error {
	u, ok := snap.TryExtractUserFromSource(cmd.Source)
	if !ok {
		return nil
	}
	account := cmd.Arg(0)
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		rec, exists := s.UserByID(u.ID)
		if !exists {
			return s, nil
		}
		if account == "*" {
			rec.Account = ""
		} else {
			rec.Account = account
		}
		return s.UpsertUser(rec)
	})
}

func handleAway(n *Network, snap state.Snapshot, cmd *message.Command) error {
	u, ok := snap.TryExtractUserFromSource(cmd.Source)
	if !ok {
		return nil
	}
	away := len(cmd.Args) > 0
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		rec, exists := s.UserByID(u.ID)
		if !exists {
			return s, nil
		}
		rec.Away = away
		return s.UpsertUser(rec)
	})
}

func handleRplAway(n *Network, snap state.Snapshot, cmd *message.Command) error {
	nick := cmd.Arg(1)
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		rec, exists := s.UserByNick(nick)
		if !exists {
			return s, nil
		}
		rec.Away = true
		return s.UpsertUser(rec)
	})
}

func handleSelfAway(n *Network, snap state.Snapshot, cmd *message.Command) error {
	away := cmd.Verb == "306"
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		self, exists := s.SelfUser()
		if !exists {
			return s, nil
		}
		self.Away = away
		return s.UpsertUser(self)
	})
}

// handleWhoReply parses RPL_WHOREPLY's flags field: "H"/"G" (here/gone)
// followed by an optional "*" (oper) then channel-status prefix
// symbols.
func handleWhoReply(n *Network, snap state.Snapshot, cmd *message.Command) error {
	if len(cmd.Args) < 8 {
		return nil
	}
	chName, ident, host, nick, flags, realname := cmd.Args[1], cmd.Args[2], cmd.Args[3], cmd.Args[5], cmd.Args[6], cmd.Args[len(cmd.Args)-1]
	// realname is "<hopcount> <realname>"; drop the hopcount.
	if sp := strings.IndexByte(realname, ' '); sp != -1 {
		realname = realname[sp+1:]
	}
	away := strings.HasPrefix(flags, "G")
	rest := flags
	if len(rest) > 0 {
		rest = rest[1:]
	}
	rest = strings.TrimPrefix(rest, "*")

	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		rec, exists := s.UserByNick(nick)
		if !exists {
			rec = state.User{ID: state.NewUserID(), Nick: nick, Modes: map[byte]struct{}{}, Channels: map[state.ChannelID]string{}}
		}
		rec.Ident, rec.Host, rec.RealName, rec.Away = ident, host, realname, away
		var err error
		s, err = s.UpsertUser(rec)
		if err != nil {
			return s, err
		}
		if ch, exists := s.ChannelByName(chName); exists {
			u, _ := s.UserByNick(nick)
			s, err = s.Join(u.ID, ch.ID, s.ISupport.Prefix.SortPrefixes(rest))
			if err != nil {
				return s, err
			}
		}
		return s, nil
	})
}

// handleUserhostReply parses RPL_USERHOST's "nick[*]=±host" tokens
//: '*' marks an oper, '-' marks away, '+' marks present.
func handleUserhostReply(n *Network, snap state.Snapshot, cmd *message.Command) error {
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		for _, tok := range strings.Fields(strings.Join(cmd.Args[1:], " ")) {
			nick := tok
			sign := byte('+')
			if eq := strings.IndexByte(tok, '='); eq != -1 {
				nick = tok[:eq]
				if eq+1 < len(tok) {
					sign = tok[eq+1]
				}
				tok = tok[eq+1:]
				if len(tok) > 0 {
					tok = tok[1:]
				}
			}
			nick = strings.TrimSuffix(nick, "*")
			rec, exists := s.UserByNick(nick)
			if !exists {
				continue
			}
			rec.Away = sign == '-'
			rec.Host = tok
			var err error
			s, err = s.UpsertUser(rec)
			if err != nil {
				return s, err
			}
		}
		return s, nil
	})
}

func handleNamReply(n *Network, snap state.Snapshot, cmd *message.Command) error {
	if _, ok := snap.EnabledCaps["userhost-in-names"]; !ok {
		return nil
	}
	if len(cmd.Args) < 3 {
		return nil
	}
	chName := cmd.Args[len(cmd.Args)-2]
	members := strings.Fields(cmd.Args[len(cmd.Args)-1])

	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		ch, exists := s.ChannelByName(chName)
		if !exists {
			ch = state.Channel{ID: state.NewChannelID(), Name: chName, Modes: map[byte]*string{}, Users: map[state.UserID]string{}}
			var err error
			s, err = s.UpsertChannel(ch)
			if err != nil {
				return s, err
			}
		}
		for _, member := range members {
			prefix, rest := splitStatusPrefix(s.ISupport.Prefix, member)
			nick, ident, host := rest, "", ""
			if bang := strings.IndexByte(rest, '!'); bang != -1 {
				nick = rest[:bang]
				if at := strings.IndexByte(rest[bang+1:], '@'); at != -1 {
					ident = rest[bang+1 : bang+1+at]
					host = rest[bang+1+at+1:]
				}
			}
			if nick == "" {
				continue
			}
			rec, exists := s.UserByNick(nick)
			if !exists {
				rec = state.User{ID: state.NewUserID(), Nick: nick, Ident: ident, Host: host, Modes: map[byte]struct{}{}, Channels: map[state.ChannelID]string{}}
			}
			var err error
			s, err = s.UpsertUser(rec)
			if err != nil {
				return s, err
			}
			u, _ := s.UserByNick(nick)
			c, _ := s.ChannelByName(chName)
			s, err = s.Join(u.ID, c.ID, prefix)
			if err != nil {
				return s, err
			}
		}
		return s, nil
	})
}

func splitStatusPrefix(pt state.PrefixTable, member string) (prefix, rest string) {
	i := 0
	for i < len(member) && strings.IndexByte(pt.Symbols, member[i]) != -1 {
		i++
	}
	return pt.SortPrefixes(member[:i]), member[i:]
}

func handleTopic(n *Network, snap state.Snapshot, cmd *message.Command) error {
	chName := cmd.Arg(1)
	topic := cmd.Arg(len(cmd.Args) - 1)
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		ch, exists := s.ChannelByName(chName)
		if !exists {
			return s, nil
		}
		ch.Topic = topic
		return s.UpsertChannel(ch)
	})
}

func handleUmodeIs(n *Network, snap state.Snapshot, cmd *message.Command) error {
	modeStr := cmd.Arg(1)
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		self, exists := s.SelfUser()
		if !exists {
			return s, nil
		}
		self.Modes = map[byte]struct{}{}
		add := true
		for i := 0; i < len(modeStr); i++ {
			switch modeStr[i] {
			case '+':
				add = true
			case '-':
				add = false
			default:
				if add {
					self.Modes[modeStr[i]] = struct{}{}
				}
			}
		}
		return s.UpsertUser(self)
	})
}

// handleMode walks a MODE command's modestring and arguments: user-mode
// letters if the target is self, otherwise channel modes
// classified by ISUPPORT CHANMODES (type A/B/C/D) and PREFIX (status
// modes).
func handleMode(n *Network, snap state.Snapshot, cmd *message.Command) error {
	if len(cmd.Args) < 2 {
		return nil
	}
	target := cmd.Args[0]
	modeStr := cmd.Args[1]
	params := cmd.Args[2:]

	if self, ok := snap.SelfUser(); ok && strings.EqualFold(self.Nick, target) {
		return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
			self, exists := s.SelfUser()
			if !exists {
				return s, nil
			}
			modes := make(map[byte]struct{}, len(self.Modes))
			for m := range self.Modes {
				modes[m] = struct{}{}
			}
			self.Modes = modes
			applyUserModes(&self, modeStr)
			return s.UpsertUser(self)
		})
	}

	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		ch, exists := s.ChannelByName(target)
		if !exists {
			return s, nil
		}
		// Mode mutations accumulate in a copy: the snapshot's own channel
		// record is immutable once published.
		modes := make(map[byte]*string, len(ch.Modes))
		for m, v := range ch.Modes {
			modes[m] = v
		}
		paramIdx := 0
		nextParam := func() (string, bool) {
			if paramIdx >= len(params) {
				return "", false
			}
			p := params[paramIdx]
			paramIdx++
			return p, true
		}

		add := true
		for i := 0; i < len(modeStr); i++ {
			letter := modeStr[i]
			switch letter {
			case '+':
				add = true
				continue
			case '-':
				add = false
				continue
			}

			if sym := s.ISupport.Prefix.SymbolForMode(letter); sym != 0 {
				arg, ok := nextParam()
				if !ok {
					continue
				}
				u, exists := s.UserByNick(arg)
				if !exists {
					continue
				}
				cur := ""
				if latest, ok := s.ChannelByID(ch.ID); ok {
					cur = latest.Users[u.ID]
				}
				if add {
					if !strings.ContainsRune(cur, rune(sym)) {
						cur = s.ISupport.Prefix.SortPrefixes(cur + string(sym))
					}
				} else {
					cur = strings.ReplaceAll(cur, string(sym), "")
				}
				var err error
				s, err = s.Join(u.ID, ch.ID, cur)
				if err != nil {
					return s, err
				}
				continue
			}

			switch s.ISupport.ChanModes.TypeOf(letter) {
			case 'A':
				nextParam() // list modes (ban etc.) take an arg but aren't stored
			case 'B':
				arg, _ := nextParam()
				if add {
					v := arg
					modes[letter] = &v
				} else {
					delete(modes, letter)
				}
			case 'C':
				if add {
					arg, _ := nextParam()
					v := arg
					modes[letter] = &v
				} else {
					delete(modes, letter)
				}
			case 'D':
				if add {
					modes[letter] = nil
				} else {
					delete(modes, letter)
				}
			}
		}
		final, ok := s.ChannelByID(ch.ID)
		if !ok {
			return s, nil
		}
		final.Modes = modes
		return s.UpsertChannel(final)
	})
}

func applyUserModes(u *state.User, modeStr string) {
	add := true
	for i := 0; i < len(modeStr); i++ {
		switch modeStr[i] {
		case '+':
			add = true
		case '-':
			add = false
		default:
			if add {
				u.Modes[modeStr[i]] = struct{}{}
			} else {
				delete(u.Modes, modeStr[i])
			}
		}
	}
}

func handleRename(n *Network, snap state.Snapshot, cmd *message.Command) error {
	oldName, newName := cmd.Arg(0), cmd.Arg(1)
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		ch, exists := s.ChannelByName(oldName)
		if !exists {
			return s, nil
		}
		return s.RenameChannel(ch.ID, newName)
	})
}

func handleSetName(n *Network, snap state.Snapshot, cmd *message.Command) error {
	u, ok := snap.TryExtractUserFromSource(cmd.Source)
	if !ok {
		return nil
	}
	realname := cmd.Arg(0)
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		rec, exists := s.UserByID(u.ID)
		if !exists {
			return s, nil
		}
		rec.RealName = realname
		return s.UpsertUser(rec)
	})
}

// handleWhoisUser refreshes ident/host/realname from 311 RPL_WHOISUSER.
func handleWhoisUser(n *Network, snap state.Snapshot, cmd *message.Command) error {
	if len(cmd.Args) < 6 {
		return nil
	}
	nick, ident, host, realname := cmd.Args[1], cmd.Args[2], cmd.Args[3], cmd.Args[5]
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		rec, exists := s.UserByNick(nick)
		if !exists {
			return s, nil
		}
		rec.Ident, rec.Host, rec.RealName = ident, host, realname
		return s.UpsertUser(rec)
	})
}

// handleWhoisAccount handles 330 RPL_WHOISACCOUNT's account refresh.
func handleWhoisAccount(n *Network, snap state.Snapshot, cmd *message.Command) error {
	if len(cmd.Args) < 3 {
		return nil
	}
	nick, account := cmd.Args[1], cmd.Args[2]
	return n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		rec, exists := s.UserByNick(nick)
		if !exists {
			return s, nil
		}
		rec.Account = account
		return s.UpsertUser(rec)
	})
}
