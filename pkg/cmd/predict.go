package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/dal"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/features"
)

var PredictCmd = &cobra.Command{
	Use:   PredictCmdName,
	Short: PredictCmdShort,
	Long:  PredictCmdLong,
	Example: `  carprice predict --model model.yaml --name Maruti --year 2015 --km_driven 50000 \
    --fuel Diesel --seller_type Individual --transmission Manual --owner "First Owner" \
    --mileage "21.4 kmpl" --engine "1248 CC" --max_power "74 bhp" --seats 5`,
	RunE: predictCmdFunc,
}

func init() {
	for _, field := range dal.FeatureNames {
		PredictCmd.Flags().String(field, "", fmt.Sprintf("%s of the car", field))
	}
	PredictCmd.Flags().Lookup(dal.FieldName).Usage = "brand of the car, e.g. Maruti"
}

// predictCmdFunc runs one submission built from the flags that were set.
func predictCmdFunc(cmd *cobra.Command, args []string) error {
	raw := make(dal.RawSubmission)
	for _, field := range dal.FeatureNames {
		if f := cmd.Flags().Lookup(field); f != nil && f.Changed {
			raw[field] = f.Value.String()
		}
	}

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	invoker, err := loadInvoker(settings, nil)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	vector, err := features.Assemble(raw)
	if err != nil {
		return err
	}
	price, err := invoker.Invoke(vector)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), dal.PredictionResult{Price: price}.Display())
	return nil
}
