package command

import "context"

// Builtin returns the default command table shipped with the gateway.
func Builtin() []Command {
	return []Command{
		{
			Trigger: "/nick",
			Help:    "change your display name",
			Handler: func(ctx context.Context, gw Gateway, sender Sender, args string) {
				// Invalid names are ignored by Rename; the sender keeps
				// their current name and no error travels back.
				_ = gw.Rename(ctx, sender.ID, args)
			},
		},
		{
			Trigger: "/me",
			Help:    "describe an action in the third person",
			Handler: func(ctx context.Context, gw Gateway, sender Sender, args string) {
				if args == "" {
					return
				}
				gw.BroadcastMessage(sender.ID, "* "+sender.Name+" "+args, nil)
			},
		},
		{
			// Bare trigger only; "/shrug something" is an ordinary message.
			Trigger: "/shrug",
			Exact:   true,
			Help:    "shrug",
			Handler: func(ctx context.Context, gw Gateway, sender Sender, _ string) {
				gw.BroadcastMessage(sender.ID, `¯\_(ツ)_/¯`, nil)
			},
		},
	}
}
