package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voiceflow-pro/voiceflow/pkg/audio/portaudio"
)

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Long: `List the input devices PortAudio can capture from. Use a name, or any
unique part of it, as audio.device in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := portaudio.Devices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no input devices found")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEFAULT\tNAME\tHOST API\tCHANNELS\tSAMPLE RATE")
			for _, d := range devices {
				mark := ""
				if d.Default {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f\n", mark, d.Name, d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
			}
			return tw.Flush()
		},
	}
}
