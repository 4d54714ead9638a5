package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/learnlive/learnlive/internal/identity"
)

func signUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup EMAIL PASSWORD",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignIn(cmd, args, true)
		},
	}
	addCommonFlags(cmd.Flags())
	cmd.Flags().String("session", defaultSessionPath(), "File holding the signed-in session token")
	return cmd
}

func signInCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin EMAIL PASSWORD",
		Short: "Sign in and remember the session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignIn(cmd, args, false)
		},
	}
	addCommonFlags(cmd.Flags())
	cmd.Flags().String("session", defaultSessionPath(), "File holding the signed-in session token")
	return cmd
}

func signOutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signout",
		Short: "End the saved session",
		Args:  cobra.NoArgs,
		RunE:  runSignOut,
	}
	addCommonFlags(cmd.Flags())
	cmd.Flags().String("session", defaultSessionPath(), "File holding the signed-in session token")
	return cmd
}

func runSignIn(cmd *cobra.Command, args []string, create bool) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	provider := identity.New(db)
	if create {
		_, err = provider.SignUp(args[0], args[1])
	} else {
		_, err = provider.SignIn(args[0], args[1])
	}
	if err != nil {
		return errors.New(identity.Message(cmd.Context(), err))
	}

	if err := writeSessionToken(v.GetString("session"), provider.Token()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	id := provider.Current()
	fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", id.Email, id.ID)
	return nil
}

func runSignOut(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	path := v.GetString("session")
	token := readSessionToken(path)
	if token == "" {
		return nil
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	provider := identity.New(db)
	if _, err := provider.Resume(token); err != nil {
		return err
	}
	if err := provider.SignOut(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "signed out")
	return nil
}
